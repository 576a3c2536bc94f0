package ical

import "strings"

// allowedSchemes is the URL scheme whitelist from spec §6: subscription
// and URI-valued properties may only use these.
var allowedSchemes = map[string]bool{
	"https":  true,
	"http":   true,
	"webcal": true,
}

// SafeScheme reports whether uri uses an allowed scheme. A URI with no
// "://" (e.g. a bare mailto: address, which uses "mailto:") is
// considered safe since the whitelist only governs subscription
// endpoints per spec §6.
func SafeScheme(uri string) bool {
	idx := strings.Index(uri, "://")
	if idx < 0 {
		return true
	}
	scheme := strings.ToLower(uri[:idx])
	return allowedSchemes[scheme]
}
