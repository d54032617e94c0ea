package embed

import (
	"net/url"
	"strings"
)

const (
	// CSRFCookieName is the cookie holding the anti-forgery credential.
	CSRFCookieName = "csrftoken"
	// CSRFHeaderName carries the CSRFCookieName value on guest token requests.
	CSRFHeaderName = "X-CSRFToken"

	cookieSeparator = ";"
)

// CookieSource returns the raw cookie string visible to the page, e.g. "a=1; csrftoken=XYZ".
type CookieSource func() string

// StaticCookies returns a CookieSource that always yields the provided cookie string.
func StaticCookies(cookieHeader string) CookieSource {
	return func() string {
		return cookieHeader
	}
}

// CookieValue looks up a cookie by name in a raw cookie string.
func CookieValue(cookieHeader string, name string) (string, bool) {
	if cookieHeader == "" || name == "" {
		return "", false
	}
	prefix := name + "="
	for _, part := range strings.Split(cookieHeader, cookieSeparator) {
		trimmed := strings.TrimSpace(part)
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		encodedValue := trimmed[len(prefix):]
		decodedValue, decodeErr := url.PathUnescape(encodedValue)
		if decodeErr != nil {
			return encodedValue, true
		}
		return decodedValue, true
	}
	return "", false
}
