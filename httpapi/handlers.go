package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/goSession/middleware"
)

const maxLoginBody = 8 << 10

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
	Credential string `json:"credential" validate:"required,max=1024"`
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", 0)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", 0)
		return
	}

	tok, err := a.engine.Authenticate(r.Context(), req.Identifier, req.Credential)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}

	http.SetCookie(w, a.cookie.SessionCookie(tok))
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	if tok, ok := middleware.TokenFromRequest(r, a.gate); ok {
		_ = a.engine.Logout(r.Context(), tok)
	}
	http.SetCookie(w, a.cookie.ClearedCookie())
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) logoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.PrincipalFromContext(r.Context())
	n, err := a.engine.LogoutAll(r.Context(), id)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	http.SetCookie(w, a.cookie.ClearedCookie())
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (a *api) session(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"principal_id": id})
}

func (a *api) oauth2Authorize(w http.ResponseWriter, r *http.Request) {
	target, err := a.engine.BeginOAuth2(r.Context(), r.URL.Query().Get("return_to"))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// oauth2Callback always redeems the state, including when the provider
// reports an error instead of a code.
func (a *api) oauth2Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := a.engine.CompleteOAuth2(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	http.SetCookie(w, a.cookie.SessionCookie(res.Token))
	http.Redirect(w, r, res.ReturnTo, http.StatusFound)
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Ping(r.Context()); err != nil {
		a.log.Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
