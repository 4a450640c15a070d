package rpc

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/brindlepay/subscription-service/internal/auth"
	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/internal/services/account"
)

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

// apiKeyCreatedResponse is the stored row plus the full secret, which
// appears in this response and nowhere else again.
type apiKeyCreatedResponse struct {
	*domain.APIKey
	Key string `json:"api_key"`
}

type updateAPIKeyRequest struct {
	KeyID   string  `json:"key_id"`
	Name    *string `json:"name"`
	Enabled *bool   `json:"enabled"`
}

type keyIDRequest struct {
	KeyID string `json:"key_id"`
}

type webhookURLRequest struct {
	URL string `json:"url"`
}

type webhookCreatedResponse struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

type webhookResponse struct {
	*domain.Webhook
	SecretPreview string `json:"secret_preview"`
}

type cdpTokenRequest struct {
	JWT string `json:"jwt"`
}

type cdpIdentityResponse struct {
	CDPUserID      string  `json:"cdp_user_id"`
	AccountAddress *string `json:"account_address,omitempty"`
	AccountID      *int64  `json:"account_id,omitempty"`
}

func (h *Handler) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	var req createAPIKeyRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	result, err := h.accounts.CreateAPIKey(r.Context(), acct.ID, req.Name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, apiKeyCreatedResponse{
		APIKey: result.Key,
		Key:    result.Secret,
	})
}

func (h *Handler) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	keys, err := h.accounts.ListAPIKeys(r.Context(), acct.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if keys == nil {
		keys = []domain.APIKey{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"api_keys": keys})
}

func (h *Handler) handleUpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	var req updateAPIKeyRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	keyID, err := uuid.Parse(req.KeyID)
	if err != nil {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidFormat, "key_id must be a UUID"))
		return
	}

	key, err := h.accounts.UpdateAPIKey(r.Context(), acct.ID, account.UpdateAPIKeyParams{
		Name:    req.Name,
		Enabled: req.Enabled,
		KeyID:   keyID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, key)
}

func (h *Handler) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	var req keyIDRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	keyID, err := uuid.Parse(req.KeyID)
	if err != nil {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidFormat, "key_id must be a UUID"))
		return
	}

	if err := h.accounts.DeleteAPIKey(r.Context(), acct.ID, keyID); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	var req webhookURLRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	h.logger.Info("createWebhook request",
		ports.Int64("account_id", acct.ID),
		ports.String("url", req.URL),
	)

	result, err := h.accounts.CreateWebhook(r.Context(), acct.ID, req.URL)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, webhookCreatedResponse{
		URL:    result.Webhook.URL,
		Secret: result.Secret,
	})
}

func (h *Handler) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	webhook, err := h.accounts.GetWebhook(r.Context(), acct.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, webhookResponse{
		Webhook:       webhook,
		SecretPreview: auth.SecretPreview(webhook.Secret),
	})
}

func (h *Handler) handleUpdateWebhookURL(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	var req webhookURLRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	if err := h.accounts.UpdateWebhookURL(r.Context(), acct.ID, req.URL); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleRotateWebhookSecret(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	h.logger.Info("rotateWebhookSecret request", ports.Int64("account_id", acct.ID))

	secret, err := h.accounts.RotateWebhookSecret(r.Context(), acct.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *Handler) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	h.logger.Info("deleteWebhook request", ports.Int64("account_id", acct.ID))

	if err := h.accounts.DeleteWebhook(r.Context(), acct.ID); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleCDPAuthenticate validates the token and creates the account on
// first sign-in. This is the dashboard's entry point.
func (h *Handler) handleCDPAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req cdpTokenRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.JWT == "" {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidRequest, "jwt is required"))
		return
	}

	acct, err := h.accounts.Authenticate(r.Context(), req.JWT)
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp := cdpIdentityResponse{AccountID: &acct.ID}
	if acct.CDPUserID != nil {
		resp.CDPUserID = *acct.CDPUserID
	}
	address := acct.Address.Hex()
	resp.AccountAddress = &address
	h.respondJSON(w, http.StatusOK, resp)
}

// handleCDPJWTValidate checks a token without creating anything.
func (h *Handler) handleCDPJWTValidate(w http.ResponseWriter, r *http.Request) {
	var req cdpTokenRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.JWT == "" {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidRequest, "jwt is required"))
		return
	}

	identity, err := h.accounts.ValidateToken(req.JWT)
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp := cdpIdentityResponse{CDPUserID: identity.CDPUserID}
	if identity.Address != nil {
		address := identity.Address.Hex()
		resp.AccountAddress = &address
	}
	h.respondJSON(w, http.StatusOK, resp)
}
