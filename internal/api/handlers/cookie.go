package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CookieCodec writes and reads the signed session cookie. The cookie value is
// "<sessionID>.<sig>" where sig is an HMAC-SHA256 over the session ID, so a
// forged or tampered identifier is rejected before it ever reaches storage.
type CookieCodec struct {
	Name   string
	Secret string
	Secure bool
}

// Write sets the session cookie. Its lifetime is clamped to the session's own
// expiry; the cookie never outlives the session it references.
func (c *CookieCodec) Write(w http.ResponseWriter, sessionID uuid.UUID, expiresAt time.Time) {
	sid := sessionID.String()
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    sid + "." + c.sign(sid),
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the session cookie on the client.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read extracts and authenticates the session identifier from the request
// cookie. Absent, malformed and badly signed cookies all report false.
func (c *CookieCodec) Read(r *http.Request) (uuid.UUID, bool) {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return uuid.Nil, false
	}

	sid, sig, found := strings.Cut(cookie.Value, ".")
	if !found {
		return uuid.Nil, false
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(sid))) {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(sid)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *CookieCodec) sign(sid string) string {
	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write([]byte(sid))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
