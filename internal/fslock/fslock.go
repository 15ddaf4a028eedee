// Package fslock provides the advisory file locking discipline spec §5
// requires around every shared on-disk resource: the pending-action
// store, the panic/pause markers, the PIN hash, and the audit log.
// Readers take a shared lock, writers take an exclusive lock, and the
// reconciler's run-token uses a nonblocking exclusive acquisition so a
// second concurrent tick can detect contention and exit immediately
// rather than queue behind the first (spec §5's single-flight rule).
package fslock

import "os"

// Lock holds an open, locked file descriptor. Unlock releases both the
// OS-level lock and closes the descriptor.
type Lock struct {
	file *os.File
}

// lockFilePath returns the companion lock file for the data file at
// path (path+".lock"); the lock is taken on it rather than on the data
// file so reads of the data file are never blocked by the lock's own
// open/create.
func lockFilePath(path string) string {
	return path + ".lock"
}

// Shared takes a blocking shared (read) lock on path's companion lock
// file, creating it if necessary.
func Shared(path string) (*Lock, error) {
	return acquire(path, false, true)
}

// Exclusive takes a blocking exclusive (write) lock.
func Exclusive(path string) (*Lock, error) {
	return acquire(path, true, true)
}

// TryExclusive attempts a nonblocking exclusive lock. ok is false (with
// a nil error) if another process already holds the lock -- the
// run-token case from spec §5, where the losing process must "exit
// cleanly with exit code 0" rather than treat contention as failure.
func TryExclusive(path string) (l *Lock, ok bool, err error) {
	l, err = acquire(path, true, false)
	if err == errWouldBlock {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return l, true, nil
}

// Unlock releases the lock and closes the underlying descriptor.
func (l *Lock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
