// Package rpc is the merchant-facing JSON API. Every operation is a POST
// to /api/v1/<method> with a JSON body; errors come back as a
// {"error": {code, message}} envelope with the status from the domain
// taxonomy.
package rpc

import (
	"net/http"
	"strings"

	"github.com/brindlepay/subscription-service/internal/auth"
	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	svc "github.com/brindlepay/subscription-service/internal/services/ports"
)

// Handler serves the RPC surface.
type Handler struct {
	subscriptions svc.SubscriptionService
	accounts      svc.AccountService
	logger        ports.Logger
}

func NewHandler(subscriptions svc.SubscriptionService, accounts svc.AccountService, logger ports.Logger) *Handler {
	return &Handler{
		subscriptions: subscriptions,
		accounts:      accounts,
		logger:        logger,
	}
}

// Register mounts every method on the mux. The two CDP endpoints take the
// token in the request body; everything else requires an API key or CDP
// token in the Authorization header.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/cdpAuthenticate", post(h.handleCDPAuthenticate))
	mux.HandleFunc("/api/v1/cdpJWTValidate", post(h.handleCDPJWTValidate))

	mux.HandleFunc("/api/v1/createSubscription", post(h.requireAuth(h.handleCreateSubscription)))
	mux.HandleFunc("/api/v1/revokeSubscription", post(h.requireAuth(h.handleRevokeSubscription)))
	mux.HandleFunc("/api/v1/listSubscriptions", post(h.requireAuth(h.handleListSubscriptions)))
	mux.HandleFunc("/api/v1/getSubscription", post(h.requireAuth(h.handleGetSubscription)))

	mux.HandleFunc("/api/v1/createApiKey", post(h.requireAuth(h.handleCreateAPIKey)))
	mux.HandleFunc("/api/v1/listApiKeys", post(h.requireAuth(h.handleListAPIKeys)))
	mux.HandleFunc("/api/v1/updateApiKey", post(h.requireAuth(h.handleUpdateAPIKey)))
	mux.HandleFunc("/api/v1/deleteApiKey", post(h.requireAuth(h.handleDeleteAPIKey)))

	mux.HandleFunc("/api/v1/createWebhook", post(h.requireAuth(h.handleCreateWebhook)))
	mux.HandleFunc("/api/v1/getWebhook", post(h.requireAuth(h.handleGetWebhook)))
	mux.HandleFunc("/api/v1/updateWebhookUrl", post(h.requireAuth(h.handleUpdateWebhookURL)))
	mux.HandleFunc("/api/v1/rotateWebhookSecret", post(h.requireAuth(h.handleRotateWebhookSecret)))
	mux.HandleFunc("/api/v1/deleteWebhook", post(h.requireAuth(h.handleDeleteWebhook)))
}

func post(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "only POST is allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// requireAuth resolves the caller's credential to an account. API keys are
// recognised by their prefix; anything else is treated as a CDP token, so
// both the dashboard and server integrations use the same endpoints.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := bearerToken(r)
		if credential == "" {
			h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey,
				"Missing API key or token"))
			return
		}

		var (
			account  *domain.Account
			authType auth.AuthType
			err      error
		)
		if strings.HasPrefix(credential, auth.KeyPrefix) {
			account, err = h.accounts.AuthenticateKey(r.Context(), credential)
			authType = auth.AuthTypeAPIKey
		} else {
			account, err = h.accounts.Authenticate(r.Context(), credential)
			authType = auth.AuthTypeCDPJWT
		}
		if err != nil {
			h.respondError(w, err)
			return
		}

		ctx := auth.WithAccount(r.Context(), account, authType)
		next(w, r.WithContext(ctx))
	}
}

// accountFrom pulls the authenticated account out of the request context.
func (h *Handler) accountFrom(r *http.Request) (*domain.Account, bool) {
	return auth.AccountFrom(r.Context())
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return r.Header.Get("X-Api-Key")
}
