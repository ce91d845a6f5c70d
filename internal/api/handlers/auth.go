package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"

	"github.com/bridgecall/bridgecall/internal/api/middleware"
	"github.com/bridgecall/bridgecall/internal/auth"
	"github.com/bridgecall/bridgecall/internal/domain"
	"github.com/bridgecall/bridgecall/internal/notify"
)

// minTokenLength rejects obviously malformed tokens at the boundary; real
// tokens are 43 characters of base64url.
const minTokenLength = 10

// invalidTokenMessage is the single message returned for every verification
// failure, so callers cannot tell unknown, expired and replayed tokens apart.
const invalidTokenMessage = "Invalid or expired token"

// AuthHandler handles the magic-link authentication endpoints
type AuthHandler struct {
	authService *auth.Service
	notifier    notify.Notifier
	cookies     *CookieCodec
	webBaseURL  string
	ttlMinutes  int
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.Service, notifier notify.Notifier, cookies *CookieCodec, webBaseURL string, ttlMinutes int) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		notifier:    notifier,
		cookies:     cookies,
		webBaseURL:  webBaseURL,
		ttlMinutes:  ttlMinutes,
	}
}

// RequestLinkRequest is the request body for requesting a magic link
type RequestLinkRequest struct {
	Email string `json:"email"`
}

// VerifyRequest is the request body for API token verification
type VerifyRequest struct {
	Token string `json:"token"`
}

// RequestLink handles POST /auth/request-link. The response is identical
// whether or not the user already existed.
func (h *AuthHandler) RequestLink(w http.ResponseWriter, r *http.Request) {
	var req RequestLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		h.jsonError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	user, err := h.authService.GetOrCreateUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.serverError(w, r, "get or create user", err)
		return
	}

	token, session, err := h.authService.CreateSession(r.Context(), user.ID, h.ttlMinutes)
	if err != nil {
		h.serverError(w, r, "create session", err)
		return
	}

	link := h.webBaseURL + "/auth/verify?token=" + url.QueryEscape(token)

	// Delivery is best-effort: a broken notifier is an operator problem,
	// not a reason to fail issuance. The user can always request again.
	if err := h.notifier.Notify(r.Context(), user.Email, link, h.ttlMinutes); err != nil {
		slog.Error("magic link delivery failed",
			"email", user.Email,
			"session_id", session.ID,
			"error", err,
		)
	}

	h.jsonResponse(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Magic link sent",
	})
}

// Verify handles POST /auth/verify for API clients.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Token) < minTokenLength {
		h.jsonError(w, http.StatusBadRequest, "token too short")
		return
	}

	id, err := h.authService.Verify(r.Context(), req.Token)
	if errors.Is(err, domain.ErrInvalidToken) {
		h.jsonError(w, http.StatusUnauthorized, invalidTokenMessage)
		return
	}
	if err != nil {
		h.serverError(w, r, "verify token", err)
		return
	}

	// Cookie lifetime is clamped to the session's own expiry.
	h.cookies.Write(w, id.SessionID, id.ExpiresAt)

	h.jsonResponse(w, http.StatusOK, map[string]any{
		"ok":        true,
		"sessionId": id.SessionID.String(),
		"email":     id.Email,
	})
}

// VerifyLink handles GET /auth/verify, the path taken when the user clicks
// the emailed link. On success the browser is sent to the application landing
// page with the session cookie set.
func (h *AuthHandler) VerifyLink(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.jsonError(w, http.StatusBadRequest, "token is required in query parameter")
		return
	}

	id, err := h.authService.Verify(r.Context(), token)
	if errors.Is(err, domain.ErrInvalidToken) {
		h.jsonError(w, http.StatusUnauthorized, invalidTokenMessage)
		return
	}
	if err != nil {
		h.serverError(w, r, "verify token", err)
		return
	}

	h.cookies.Write(w, id.SessionID, id.ExpiresAt)
	http.Redirect(w, r, h.webBaseURL+"/dashboard?auth=success", http.StatusFound)
}

// ResolveRequest authenticates the session cookie against storage. It is the
// resolve hook for the RequireSession middleware guarding every protected
// route; a missing, forged or stale cookie is domain.ErrSessionNotFound.
func (h *AuthHandler) ResolveRequest(r *http.Request) (*auth.Identity, error) {
	sessionID, ok := h.cookies.Read(r)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return h.authService.Resolve(r.Context(), sessionID)
}

// Me handles GET /auth/me. It runs behind RequireSession, which resolved the
// cookie-held session and stashed the identity in the request context.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r.Context())
	if !ok {
		h.jsonResponse(w, http.StatusUnauthorized, map[string]any{"ok": false})
		return
	}

	h.jsonResponse(w, http.StatusOK, map[string]any{
		"ok":        true,
		"sessionId": id.SessionID.String(),
		"email":     id.Email,
	})
}

func (h *AuthHandler) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *AuthHandler) jsonError(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]any{"ok": false, "error": message})
}

func (h *AuthHandler) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	slog.Error("auth handler error", "op", op, "path", r.URL.Path, "error", err)
	h.jsonError(w, http.StatusInternalServerError, "internal server error")
}
