package rpc

import (
	"net/http"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/internal/services/subscription"
)

type createSubscriptionRequest struct {
	SubscriptionID string             `json:"subscription_id"`
	Provider       domain.ProviderTag `json:"provider"`
	Testnet        bool               `json:"testnet"`
}

type subscriptionIDRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

type listSubscriptionsRequest struct {
	Testnet *bool `json:"testnet"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type statusResponse struct {
	Status domain.SubscriptionStatus `json:"status"`
}

// handleCreateSubscription records the subscription and kicks off the
// activation charge in the background; the caller polls getSubscription or
// listens for the webhook to see it go active.
func (h *Handler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	account, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	var req createSubscriptionRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.SubscriptionID == "" {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidRequest, "subscription_id is required"))
		return
	}
	if req.Provider == "" {
		req.Provider = domain.ProviderBase
	}

	h.logger.Info("createSubscription request",
		ports.String("subscription_id", req.SubscriptionID),
		ports.Int64("account_id", account.ID),
		ports.Bool("testnet", req.Testnet),
	)

	result, err := h.subscriptions.Create(r.Context(), subscription.CreateParams{
		SubscriptionID: req.SubscriptionID,
		Provider:       req.Provider,
		AccountID:      account.ID,
		Testnet:        req.Testnet,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.subscriptions.ActivateInBackground(result.Subscription, result.Order)

	h.respondJSON(w, http.StatusOK, statusResponse{Status: domain.SubscriptionStatusProcessing})
}

func (h *Handler) handleRevokeSubscription(w http.ResponseWriter, r *http.Request) {
	account, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	var req subscriptionIDRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.SubscriptionID == "" {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidRequest, "subscription_id is required"))
		return
	}

	h.logger.Info("revokeSubscription request",
		ports.String("subscription_id", req.SubscriptionID),
		ports.Int64("account_id", account.ID),
	)

	err := h.subscriptions.Revoke(r.Context(), subscription.RevokeParams{
		SubscriptionID: req.SubscriptionID,
		AccountID:      account.ID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	account, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	var req listSubscriptionsRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	subs, err := h.subscriptions.List(r.Context(), account.ID, req.Testnet)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	account, ok := h.accountFrom(r)
	if !ok {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Missing API key or token"))
		return
	}

	var req subscriptionIDRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.SubscriptionID == "" {
		h.respondError(w, domain.NewPaymentError(domain.ErrorCodeInvalidRequest, "subscription_id is required"))
		return
	}

	details, err := h.subscriptions.Get(r.Context(), req.SubscriptionID, account.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	orders := details.Orders
	if orders == nil {
		orders = []domain.Order{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"subscription": details.Subscription,
		"orders":       orders,
	})
}
