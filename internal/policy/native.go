package policy

// nativeCategories is the fixed closed set of NextDNS parental-control
// categories this module knows how to toggle (spec §3).
var nativeCategories = map[string]bool{
	"gambling":        true,
	"porn":            true,
	"dating":          true,
	"piracy":          true,
	"social-networks": true,
	"gaming":          true,
	"video-streaming": true,
}

// nativeServices is the fixed closed set of NextDNS services. This is
// representative rather than exhaustive of NextDNS's own catalog, but
// every id a policy file references must appear here or validation
// fails fatally for the tick (spec §4.3).
var nativeServices = map[string]bool{
	"tiktok":      true,
	"youtube":     true,
	"facebook":    true,
	"instagram":   true,
	"snapchat":    true,
	"twitter":     true,
	"reddit":      true,
	"netflix":     true,
	"disney-plus": true,
	"hulu":        true,
	"twitch":      true,
	"discord":     true,
	"steam":       true,
	"spotify":     true,
	"roblox":      true,
	"minecraft":   true,
	"whatsapp":    true,
	"telegram":    true,
	"pinterest":   true,
	"amazon":      true,
}

// IsNativeCategory reports whether id belongs to the closed set of
// native parental-control categories.
func IsNativeCategory(id string) bool {
	return nativeCategories[id]
}

// IsNativeService reports whether id belongs to the closed set of
// native parental-control services.
func IsNativeService(id string) bool {
	return nativeServices[id]
}
