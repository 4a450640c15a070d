package base

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/pkg/httpx"
)

// Config contains configuration for the Base spend-permission gateway.
type Config struct {
	// MainnetURL is the gateway endpoint for Base mainnet
	MainnetURL string

	// TestnetURL is the gateway endpoint for Base Sepolia. The testnet flag
	// on each call, not a process-wide environment, picks the endpoint.
	TestnetURL string

	// APIKey authenticates this service to the gateway
	APIKey string

	// Timeout bounds one gateway round trip end to end
	Timeout time.Duration

	// Breaker guards against a dead gateway; zero values take defaults
	Breaker BreakerConfig
}

// DefaultConfig returns the production gateway configuration.
func DefaultConfig() *Config {
	return &Config{
		MainnetURL: "https://gateway.base.org/spend-permissions/v1",
		TestnetURL: "https://gateway.sepolia.base.org/spend-permissions/v1",
		Timeout:    60 * time.Second, // charge waits on user-operation inclusion
		Breaker:    DefaultBreakerConfig(),
	}
}

// Provider implements ports.SubscriptionProvider against the Base
// spend-permission gateway. It is the only component that sees raw gateway
// errors; everything it returns carries a domain error code.
type Provider struct {
	cfg     *Config
	client  *http.Client
	logger  ports.Logger
	breaker *CircuitBreaker
}

var _ ports.SubscriptionProvider = (*Provider)(nil)

// NewProvider creates a gateway client with a tuned connection pool and a
// circuit breaker around all calls.
func NewProvider(cfg *Config, logger ports.Logger) *Provider {
	return &Provider{
		cfg:     cfg,
		client:  httpx.NewClient(httpx.ProviderClientConfig(), cfg.Timeout),
		logger:  logger,
		breaker: NewCircuitBreaker(cfg.Breaker),
	}
}

// Tag names the provider for routing and persistence.
func (p *Provider) Tag() domain.ProviderTag {
	return domain.ProviderBase
}

// ValidateID reports whether id is a 0x-prefixed 32-byte hex hash. Format
// check only, no network.
func (p *Provider) ValidateID(id string) bool {
	if len(id) != 66 || id[0] != '0' || (id[1] != 'x' && id[1] != 'X') {
		return false
	}
	for _, c := range id[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// permissionStatusResponse is the gateway's view of one spend permission.
// period_in_days may be fractional (testnet permissions run short cycles).
type permissionStatusResponse struct {
	IsSubscribed            bool       `json:"is_subscribed"`
	SubscriptionOwner       *string    `json:"subscription_owner,omitempty"`
	RemainingChargeInPeriod string     `json:"remaining_charge_in_period"`
	RecurringCharge         string     `json:"recurring_charge"`
	CurrentPeriodStart      *time.Time `json:"current_period_start,omitempty"`
	NextPeriodStart         *time.Time `json:"next_period_start,omitempty"`
	PeriodInDays            float64    `json:"period_in_days"`
}

type chargeRequest struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

type chargeResponse struct {
	TransactionHash string `json:"transaction_hash"`
	GasUsed         *int64 `json:"gas_used,omitempty"`
}

type revokeResponse struct {
	TransactionHash string `json:"transaction_hash"`
}

type gatewayErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	// The indexer reports the signed recurring charge even for permissions
	// it has not seen on chain yet
	RecurringCharge string `json:"recurring_charge,omitempty"`
}

// GetStatus fetches the permission from the gateway indexer. A 404 is not
// an error: it means the permission is unknown, and only the recurring
// charge (if the indexer knows the signed payload) comes back.
func (p *Provider) GetStatus(ctx context.Context, subscriptionID common.Hash, testnet bool) (*ports.PermissionStatus, error) {
	url := fmt.Sprintf("%s/permissions/%s", p.endpoint(testnet), subscriptionID.Hex())

	status, body, err := p.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Error("Permission status request failed",
			ports.String("subscription_id", subscriptionID.Hex()),
			ports.Bool("testnet", testnet),
			ports.Err(err),
		)
		return nil, err
	}

	switch {
	case status == http.StatusOK:
		var resp permissionStatusResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, translateTransportError(fmt.Errorf("decoding status response: %w", err))
		}
		return p.toPermissionStatus(&resp), nil

	case status == http.StatusNotFound:
		var eb gatewayErrorBody
		_ = json.Unmarshal(body, &eb)
		return &ports.PermissionStatus{
			PermissionExists: false,
			IsSubscribed:     false,
			RecurringCharge:  eb.RecurringCharge,
		}, nil

	default:
		perr := translateGatewayError(status, gatewayMessage(status, body))
		p.logger.Warn("Permission status request rejected",
			ports.String("subscription_id", subscriptionID.Hex()),
			ports.Int("http_status", status),
			ports.String("code", string(perr.Code)),
		)
		return nil, perr
	}
}

// Charge executes one charge against the spend permission. Recipient comes
// from the caller, which is required to pass the subscription's beneficiary.
func (p *Provider) Charge(ctx context.Context, params ports.ChargeParams) (*ports.ChargeResult, error) {
	url := fmt.Sprintf("%s/permissions/%s/charge", p.endpoint(params.Testnet), params.SubscriptionID.Hex())

	p.logger.Debug("Submitting charge",
		ports.String("subscription_id", params.SubscriptionID.Hex()),
		ports.String("amount", params.Amount),
		ports.Bool("testnet", params.Testnet),
	)

	status, body, err := p.do(ctx, http.MethodPost, url, chargeRequest{
		Amount:    params.Amount,
		Recipient: params.Recipient.Hex(),
	})
	if err != nil {
		p.logger.Error("Charge request failed",
			ports.String("subscription_id", params.SubscriptionID.Hex()),
			ports.Err(err),
		)
		return nil, err
	}

	if status != http.StatusOK {
		perr := translateGatewayError(status, gatewayMessage(status, body))
		p.logger.Warn("Charge rejected by gateway",
			ports.String("subscription_id", params.SubscriptionID.Hex()),
			ports.Int("http_status", status),
			ports.String("code", string(perr.Code)),
		)
		return nil, perr
	}

	var resp chargeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, translateTransportError(fmt.Errorf("decoding charge response: %w", err))
	}

	p.logger.Info("Charge settled",
		ports.String("subscription_id", params.SubscriptionID.Hex()),
		ports.String("transaction_hash", resp.TransactionHash),
		ports.String("amount", params.Amount),
	)

	return &ports.ChargeResult{
		TransactionHash: common.HexToHash(resp.TransactionHash),
		GasUsed:         resp.GasUsed,
	}, nil
}

// Revoke revokes the spend permission on chain. Callers detect
// already-revoked permissions via GetStatus and skip the call, so a revoke
// reaching the gateway is expected to land.
func (p *Provider) Revoke(ctx context.Context, subscriptionID common.Hash, testnet bool) (*ports.RevokeResult, error) {
	url := fmt.Sprintf("%s/permissions/%s/revoke", p.endpoint(testnet), subscriptionID.Hex())

	status, body, err := p.do(ctx, http.MethodPost, url, nil)
	if err != nil {
		p.logger.Error("Revoke request failed",
			ports.String("subscription_id", subscriptionID.Hex()),
			ports.Err(err),
		)
		return nil, err
	}

	if status != http.StatusOK {
		perr := translateGatewayError(status, gatewayMessage(status, body))
		p.logger.Warn("Revoke rejected by gateway",
			ports.String("subscription_id", subscriptionID.Hex()),
			ports.Int("http_status", status),
			ports.String("code", string(perr.Code)),
		)
		return nil, perr
	}

	var resp revokeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, translateTransportError(fmt.Errorf("decoding revoke response: %w", err))
	}

	p.logger.Info("Permission revoked on chain",
		ports.String("subscription_id", subscriptionID.Hex()),
		ports.String("transaction_hash", resp.TransactionHash),
	)

	return &ports.RevokeResult{
		TransactionHash: common.HexToHash(resp.TransactionHash),
	}, nil
}

func (p *Provider) endpoint(testnet bool) string {
	if testnet {
		return p.cfg.TestnetURL
	}
	return p.cfg.MainnetURL
}

// do runs one gateway round trip through the circuit breaker. Transport
// failures and 5xx responses count against the breaker; any decoded
// response, declines included, is a healthy gateway.
func (p *Provider) do(ctx context.Context, method, url string, payload interface{}) (int, []byte, error) {
	if err := p.breaker.Allow(); err != nil {
		return 0, nil, domain.WrapPaymentError(
			domain.ErrorCodeUpstreamServiceError,
			messageForCode[domain.ErrorCodeUpstreamServiceError],
			err,
		).WithRaw(err.Error())
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			p.breaker.Record(false)
			return 0, nil, domain.WrapPaymentError(domain.ErrorCodeInternalError, "encoding gateway request", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		p.breaker.Record(false)
		return 0, nil, domain.WrapPaymentError(domain.ErrorCodeInternalError, "building gateway request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.breaker.Record(true)
		return 0, nil, translateTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.breaker.Record(true)
		return 0, nil, translateTransportError(err)
	}

	p.breaker.Record(resp.StatusCode >= http.StatusInternalServerError)
	return resp.StatusCode, body, nil
}

func (p *Provider) toPermissionStatus(resp *permissionStatusResponse) *ports.PermissionStatus {
	out := &ports.PermissionStatus{
		PermissionExists:        true,
		IsSubscribed:            resp.IsSubscribed,
		RemainingChargeInPeriod: resp.RemainingChargeInPeriod,
		RecurringCharge:         resp.RecurringCharge,
		CurrentPeriodStart:      resp.CurrentPeriodStart,
		NextPeriodStart:         resp.NextPeriodStart,
		PeriodInSeconds:         periodSeconds(resp.PeriodInDays),
	}
	if resp.SubscriptionOwner != nil {
		owner := common.HexToAddress(*resp.SubscriptionOwner)
		out.SubscriptionOwner = &owner
	}
	return out
}

// periodSeconds converts the gateway's day granularity to integer seconds,
// flooring fractional days.
func periodSeconds(days float64) int64 {
	if days <= 0 {
		return 0
	}
	return int64(math.Floor(days * 86400))
}

// gatewayMessage extracts the most useful raw text from a failed response.
func gatewayMessage(status int, body []byte) string {
	var eb gatewayErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	if len(body) > 0 {
		return string(body)
	}
	return http.StatusText(status)
}
