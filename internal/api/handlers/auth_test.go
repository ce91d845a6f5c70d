package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bridgecall/bridgecall/internal/api/middleware"
	"github.com/bridgecall/bridgecall/internal/auth"
	"github.com/bridgecall/bridgecall/internal/storage/sqlite"
)

// recordingNotifier captures handed-off links instead of delivering them.
type recordingNotifier struct {
	email string
	link  string
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, email, link string, ttlMinutes int) error {
	n.email = email
	n.link = link
	return n.err
}

func setupHandler(t *testing.T) (*AuthHandler, *recordingNotifier) {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	svc := auth.NewService(auth.NewSQLiteRepository(db))
	notifier := &recordingNotifier{}
	cookies := &CookieCodec{Name: "bridgecall_session", Secret: "test-secret"}

	return NewAuthHandler(svc, notifier, cookies, "http://localhost:3000", 30), notifier
}

// tokenFromLink extracts the token query parameter from a captured link.
func tokenFromLink(t *testing.T, link string) string {
	t.Helper()

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link %q: %v", link, err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("link %q has no token", link)
	}
	return token
}

// meEndpoint wraps Me in the session guard the way the server mounts it.
func meEndpoint(h *AuthHandler) http.Handler {
	return middleware.RequireSession(h.ResolveRequest)(http.HandlerFunc(h.Me))
}

func requestLink(t *testing.T, h *AuthHandler, email string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/auth/request-link", strings.NewReader(`{"email":"`+email+`"}`))
	w := httptest.NewRecorder()
	h.RequestLink(w, req)
	return w
}

func TestRequestLink(t *testing.T) {
	h, notifier := setupHandler(t)

	w := requestLink(t, h, "user@example.com")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Errorf("body = %v, want ok:true", body)
	}

	if notifier.email != "user@example.com" {
		t.Errorf("notifier email = %q", notifier.email)
	}
	if !strings.HasPrefix(notifier.link, "http://localhost:3000/auth/verify?token=") {
		t.Errorf("link = %q, want verify link on web base URL", notifier.link)
	}
}

func TestRequestLink_MalformedEmail(t *testing.T) {
	h, _ := setupHandler(t)

	for _, email := range []string{"", "not-an-email", "missing@"} {
		w := requestLink(t, h, email)
		if w.Code != http.StatusBadRequest {
			t.Errorf("email %q: status = %d, want 400", email, w.Code)
		}
	}
}

func TestRequestLink_NotifierFailureStillSucceeds(t *testing.T) {
	h, notifier := setupHandler(t)
	notifier.err = errors.New("broker down")

	w := requestLink(t, h, "user@example.com")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 despite delivery failure", w.Code)
	}
}

func TestVerify_FullFlow(t *testing.T) {
	h, notifier := setupHandler(t)

	requestLink(t, h, "user@example.com")
	token := tokenFromLink(t, notifier.link)

	// POST /auth/verify activates the session and sets the cookie.
	req := httptest.NewRequest(http.MethodPost, "/auth/verify", strings.NewReader(`{"token":"`+token+`"}`))
	w := httptest.NewRecorder()
	h.Verify(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var body struct {
		OK        bool   `json:"ok"`
		SessionID string `json:"sessionId"`
		Email     string `json:"email"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.OK || body.Email != "user@example.com" || body.SessionID == "" {
		t.Errorf("body = %+v", body)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	cookie := cookies[0]
	if cookie.Name != "bridgecall_session" {
		t.Errorf("cookie name = %q", cookie.Name)
	}
	if !cookie.HttpOnly {
		t.Error("cookie not HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Error("cookie not SameSite=Lax")
	}
	// Lifetime is clamped to the session's expiry, not a fixed long window.
	if until := time.Until(cookie.Expires); until > 31*time.Minute || until < 25*time.Minute {
		t.Errorf("cookie expires in %v, want ~30m", until)
	}

	// GET /auth/me with the cookie resolves the session.
	meReq := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	meReq.AddCookie(cookie)
	meW := httptest.NewRecorder()
	meEndpoint(h).ServeHTTP(meW, meReq)

	if meW.Code != http.StatusOK {
		t.Fatalf("me status = %d, want 200", meW.Code)
	}
	var meBody map[string]any
	if err := json.NewDecoder(meW.Body).Decode(&meBody); err != nil {
		t.Fatalf("decode me body: %v", err)
	}
	if meBody["email"] != "user@example.com" || meBody["sessionId"] != body.SessionID {
		t.Errorf("me body = %v", meBody)
	}

	// Replaying the token fails with the uniform response.
	replayReq := httptest.NewRequest(http.MethodPost, "/auth/verify", strings.NewReader(`{"token":"`+token+`"}`))
	replayW := httptest.NewRecorder()
	h.Verify(replayW, replayReq)

	if replayW.Code != http.StatusUnauthorized {
		t.Errorf("replay status = %d, want 401", replayW.Code)
	}
}

func TestVerify_UniformFailureShape(t *testing.T) {
	h, notifier := setupHandler(t)

	requestLink(t, h, "user@example.com")
	token := tokenFromLink(t, notifier.link)

	// Consume once so the replay case is real.
	req := httptest.NewRequest(http.MethodPost, "/auth/verify", strings.NewReader(`{"token":"`+token+`"}`))
	h.Verify(httptest.NewRecorder(), req)

	unknown := strings.Repeat("A", 43)

	var bodies []string
	for _, tok := range []string{unknown, token} {
		req := httptest.NewRequest(http.MethodPost, "/auth/verify", strings.NewReader(`{"token":"`+tok+`"}`))
		w := httptest.NewRecorder()
		h.Verify(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
		bodies = append(bodies, w.Body.String())
	}

	if bodies[0] != bodies[1] {
		t.Errorf("unknown and replayed tokens produce different bodies: %q vs %q", bodies[0], bodies[1])
	}
}

func TestVerify_ShortToken(t *testing.T) {
	h, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/verify", strings.NewReader(`{"token":"short"}`))
	w := httptest.NewRecorder()
	h.Verify(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestVerifyLink(t *testing.T) {
	h, notifier := setupHandler(t)

	requestLink(t, h, "user@example.com")
	token := tokenFromLink(t, notifier.link)

	req := httptest.NewRequest(http.MethodGet, "/auth/verify?token="+url.QueryEscape(token), nil)
	w := httptest.NewRecorder()
	h.VerifyLink(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "http://localhost:3000/dashboard?auth=success" {
		t.Errorf("Location = %q", loc)
	}
	if len(w.Result().Cookies()) != 1 {
		t.Error("session cookie not set on redirect")
	}
}

func TestVerifyLink_MissingToken(t *testing.T) {
	h, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/verify", nil)
	w := httptest.NewRecorder()
	h.VerifyLink(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestVerifyLink_InvalidToken(t *testing.T) {
	h, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/verify?token="+strings.Repeat("B", 43), nil)
	w := httptest.NewRecorder()
	h.VerifyLink(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestMe_NoCookie(t *testing.T) {
	h, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()
	meEndpoint(h).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestMe_ForgedCookie(t *testing.T) {
	h, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{
		Name:  "bridgecall_session",
		Value: "b5ad2b2e-33d4-4f4e-9d3f-000000000000.forged-signature",
	})
	w := httptest.NewRecorder()
	meEndpoint(h).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
