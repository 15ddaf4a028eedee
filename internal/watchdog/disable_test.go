package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDisable_TemporaryExpiresOnItsOwn(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, Disable(dir, 10*time.Minute, now))

	disabled, until, err := Disabled(dir, now.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, disabled)
	require.True(t, until.Equal(now.Add(10*time.Minute)))

	disabled, _, err = Disabled(dir, now.Add(11*time.Minute))
	require.NoError(t, err)
	require.False(t, disabled)
}

func TestDisable_PermanentNeverExpires(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, Disable(dir, 0, now))

	disabled, until, err := Disabled(dir, now.Add(365*24*time.Hour))
	require.NoError(t, err)
	require.True(t, disabled)
	require.True(t, until.IsZero())
}

func TestEnable_ClearsMarker(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, Disable(dir, 0, now))
	require.NoError(t, Enable(dir))

	disabled, _, err := Disabled(dir, now)
	require.NoError(t, err)
	require.False(t, disabled)
}

func TestDisabled_NoMarkerMeansEnabled(t *testing.T) {
	dir := t.TempDir()
	disabled, _, err := Disabled(dir, time.Now())
	require.NoError(t, err)
	require.False(t, disabled)
}
