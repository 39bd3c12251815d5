// Package attribution assembles the sanitized user-data record attached to
// every outbound analytics event.
package attribution

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/ivyaspire/leadtrack/internal/model"
)

// UserData is the privacy-sanitized attribution record sent with an event.
// Every field is optional: an absent source field stays absent here, never a
// placeholder.
type UserData struct {
	Email           string `json:"em,omitempty"`
	Phone           string `json:"ph,omitempty"`
	FirstName       string `json:"fn,omitempty"`
	LastName        string `json:"ln,omitempty"`
	City            string `json:"ct,omitempty"`
	ExternalID      string `json:"external_id,omitempty"`
	FBP             string `json:"fbp,omitempty"`
	FBC             string `json:"fbc,omitempty"`
	ClientIP        string `json:"client_ip_address,omitempty"`
	ClientUserAgent string `json:"client_user_agent,omitempty"`
}

// IsZero reports whether no field is set.
func (u UserData) IsZero() bool {
	return u == UserData{}
}

// Build constructs user data from a form snapshot. Phone becomes a
// digits-only country-code+number concatenation; email and location are
// lower-cased and trimmed (location additionally loses internal whitespace);
// the parent name splits into first token / remainder. The session id rides
// along as the stable external identifier.
func Build(s model.FormSnapshot) UserData {
	ud := UserData{}

	if s.SessionID != "" {
		ud.ExternalID = s.SessionID
	}
	if s.CountryCode != "" && s.PhoneNumber != "" {
		ud.Phone = digitsOnly(s.CountryCode) + digitsOnly(s.PhoneNumber)
	}
	if s.Location != "" {
		ud.City = stripSpace(strings.ToLower(strings.TrimSpace(normalize(s.Location))))
	}
	if s.Email != "" {
		ud.Email = strings.ToLower(strings.TrimSpace(normalize(s.Email)))
	}
	if s.ParentName != "" {
		ud.FirstName, ud.LastName = splitName(s.ParentName)
	}

	return ud
}

// Enrich merges in the attribution cookies and client context when they are
// available. Empty arguments leave the record untouched.
func Enrich(ud UserData, fbp, fbc, clientIP, userAgent string) UserData {
	if fbp != "" {
		ud.FBP = fbp
	}
	if fbc != "" {
		ud.FBC = fbc
	}
	if clientIP != "" {
		ud.ClientIP = clientIP
	}
	if userAgent != "" {
		ud.ClientUserAgent = userAgent
	}
	return ud
}

// normalize applies NFC so composed and decomposed spellings of the same
// name hash identically downstream.
func normalize(s string) string {
	return norm.NFC.String(s)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func splitName(name string) (first, last string) {
	trimmed := strings.ToLower(strings.TrimSpace(normalize(name)))
	i := strings.IndexByte(trimmed, ' ')
	if i < 0 {
		return trimmed, ""
	}
	return trimmed[:i], strings.TrimSpace(trimmed[i+1:])
}

// piiParams is the deny-list of query parameters that could carry
// personally identifying data, including the abbreviated analytics
// equivalents of the form fields.
var piiParams = []string{
	"phone", "phone_number", "email", "name",
	"first_name", "last_name", "parent_name", "student_name",
	"ph", "em", "fn", "ln",
}

// SanitizeURL strips PII-bearing query parameters from a page URL while
// preserving everything else, campaign tags included. A URL that fails to
// parse degrades to origin+path only; an unsalvageable value yields "".
func SanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return originAndPath(raw)
	}

	q := u.Query()
	for _, p := range piiParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return u.String()
}

func originAndPath(raw string) string {
	// Best-effort fallback: keep everything before the query string.
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	if _, err := url.Parse(raw); err != nil {
		return ""
	}
	return raw
}
