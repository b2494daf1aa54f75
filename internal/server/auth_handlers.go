package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"

	"github.com/dgellow/ebo-bff/internal/cookie"
	"github.com/dgellow/ebo-bff/internal/idp"
	"github.com/dgellow/ebo-bff/internal/log"
	"github.com/dgellow/ebo-bff/internal/session"
	"github.com/dgellow/ebo-bff/internal/urlutil"
)

// AuthHandlers serves the browser sign-in flow: login redirects, provider
// callbacks, logout and the sign-in page.
type AuthHandlers struct {
	providers idp.Registry
	sessions  *session.Manager
	broker    session.Broker
	baseURL   string
}

// NewAuthHandlers creates new auth handlers with dependency injection
func NewAuthHandlers(providers idp.Registry, sessions *session.Manager, broker session.Broker, baseURL string) *AuthHandlers {
	return &AuthHandlers{
		providers: providers,
		sessions:  sessions,
		broker:    broker,
		baseURL:   baseURL,
	}
}

// LoginHandler starts a sign-in with p: it records the transaction in a
// cookie and redirects the browser to the provider.
func (h *AuthHandlers) LoginHandler(p idp.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		returnTo := urlutil.SanitizeReturnTo(h.baseURL, r.URL.Query().Get("returnTo"))

		tx, c, err := cookie.Encode(p.Name(), returnTo)
		if err != nil {
			log.LogErrorWithFieldsCtx(r.Context(), "auth", "Failed to start login", map[string]any{
				"provider": p.Name(),
				"error":    err.Error(),
			})
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}

		log.LogDebugWithFieldsCtx(r.Context(), "auth", "Redirecting to provider", map[string]any{
			"provider": p.Name(),
			"returnTo": tx.ReturnToPath,
		})

		http.SetCookie(w, c)
		http.Redirect(w, r, p.AuthURL(tx.State, tx.Nonce), http.StatusFound)
	}
}

// CallbackHandler completes a sign-in with p. Every failure is terminal and
// answered in plain text; the transaction cookie is consumed whatever the
// outcome.
func (h *AuthHandlers) CallbackHandler(p idp.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		name := p.Name()

		tx, ok := cookie.Decode(r)
		if _, err := r.Cookie(cookie.TransactionCookie); err == nil {
			http.SetCookie(w, cookie.ClearTransaction())
		}
		if !ok || tx.Provider != name {
			callbackError(w, r, name, http.StatusBadRequest, "Missing OAuth state")
			return
		}

		state := r.FormValue("state")
		if state == "" || state != tx.State {
			callbackError(w, r, name, http.StatusBadRequest, "Invalid OAuth state")
			return
		}
		if oauthErr := r.FormValue("error"); oauthErr != "" {
			callbackError(w, r, name, http.StatusBadRequest, "OAuth error: "+oauthErr)
			return
		}
		code := r.FormValue("code")
		if code == "" {
			callbackError(w, r, name, http.StatusBadRequest, "Missing code")
			return
		}

		rawIDToken, err := p.ExchangeCode(ctx, code)
		if err != nil {
			var exErr *idp.ExchangeError
			switch {
			case errors.As(err, &exErr):
				log.LogWarnWithFieldsCtx(ctx, "auth", "Provider code exchange failed", map[string]any{
					"provider": name,
					"status":   exErr.StatusCode,
					"error":    err.Error(),
				})
				callbackError(w, r, name, http.StatusBadGateway,
					fmt.Sprintf("%s token exchange failed: %d", name.DisplayName(), exErr.StatusCode))
			case errors.Is(err, idp.ErrMissingIDToken):
				callbackError(w, r, name, http.StatusBadGateway, name.DisplayName()+" did not return id_token")
			default:
				log.LogErrorWithFieldsCtx(ctx, "auth", "Provider code exchange errored", map[string]any{
					"provider": name,
					"error":    err.Error(),
				})
				callbackError(w, r, name, http.StatusInternalServerError, "Internal error")
			}
			return
		}

		idToken, err := p.VerifyIDToken(ctx, rawIDToken)
		if err != nil {
			log.LogWarnWithFieldsCtx(ctx, "auth", "ID token rejected", map[string]any{
				"provider": name,
				"error":    err.Error(),
			})
			callbackError(w, r, name, http.StatusBadRequest, "Invalid ID token")
			return
		}
		if idToken.Nonce != tx.Nonce {
			callbackError(w, r, name, http.StatusBadRequest, "Invalid nonce")
			return
		}

		// Apple only posts the user's name on the very first sign-in.
		metadata := ""
		if r.Method == http.MethodPost {
			metadata = r.PostFormValue("user")
		}

		tok, err := h.broker.ExchangeIDToken(ctx, rawIDToken, metadata)
		if err != nil {
			log.LogErrorWithFieldsCtx(ctx, "auth", "Broker token exchange failed", map[string]any{
				"provider": name,
				"error":    err.Error(),
			})
			callbackError(w, r, name, http.StatusBadGateway, "Token exchange failed")
			return
		}

		if err := h.sessions.CompleteLogin(ctx, w, r, name, tok); err != nil {
			log.LogErrorWithFieldsCtx(ctx, "auth", "Failed to persist session", map[string]any{
				"provider": name,
				"error":    err.Error(),
			})
			callbackError(w, r, name, http.StatusInternalServerError, "Internal error")
			return
		}

		// Location is set directly so the sanitized path is sent verbatim.
		w.Header().Set("Location", tx.ReturnToPath)
		w.WriteHeader(http.StatusFound)
	}
}

func callbackError(w http.ResponseWriter, r *http.Request, provider idp.Name, status int, message string) {
	log.LogDebugWithFieldsCtx(r.Context(), "auth", "Callback rejected", map[string]any{
		"provider": provider,
		"status":   status,
		"message":  message,
	})
	http.Error(w, message, status)
}

// LogoutHandler erases the session record and clears both cookies.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	loaded, err := h.sessions.LoadOrCreate(ctx, r)
	if err == nil {
		err = h.sessions.Delete(ctx, loaded.ID)
	}
	if err != nil {
		log.LogErrorWithFieldsCtx(ctx, "auth", "Logout failed", map[string]any{
			"error": err.Error(),
		})
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	h.sessions.ClearCookie(w)
	http.SetCookie(w, cookie.ClearTransaction())
	w.WriteHeader(http.StatusNoContent)

	log.LogInfoWithFieldsCtx(ctx, "auth", "Signed out", nil)
}

// SigninHandler renders the provider chooser. Only configured providers get
// a button.
func (h *AuthHandlers) SigninHandler(w http.ResponseWriter, r *http.Request) {
	returnTo := urlutil.SanitizeReturnTo(h.baseURL, r.URL.Query().Get("returnTo"))
	escaped := url.QueryEscape(returnTo)

	data := SigninPageData{ReturnToPath: returnTo}
	for _, name := range []idp.Name{idp.Google, idp.Apple} {
		if _, ok := h.providers.Lookup(string(name)); !ok {
			continue
		}
		data.Providers = append(data.Providers, SigninProviderData{
			DisplayName: name.DisplayName(),
			LoginURL:    "/auth/" + string(name) + "/login?returnTo=" + escaped,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := signinPageTemplate.Execute(w, data); err != nil {
		log.LogErrorWithFieldsCtx(r.Context(), "auth", "Failed to render sign-in page", map[string]any{
			"error": err.Error(),
		})
	}
}

// providerNames lists configured providers in a stable order.
func providerNames(r idp.Registry) []idp.Name {
	names := make([]idp.Name, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
