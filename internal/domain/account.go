package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Account identifies a merchant. Created on first authentication; the core
// never destroys an account. SubscriptionOwner is the wallet that granted
// the merchant's own spend permissions and may be set exactly once.
type Account struct {
	CreatedAt         time.Time       `json:"created_at"`
	CDPUserID         *string         `json:"cdp_user_id,omitempty"`
	SubscriptionOwner *common.Address `json:"subscription_owner,omitempty"`
	Address           common.Address  `json:"address"`
	ID                int64           `json:"id"`
}

// APIKey authenticates one account. Only the sha256 hash of the secret is
// stored; Start keeps the first characters of the secret for display.
type APIKey struct {
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	KeyHash    string     `json:"-"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Start      string     `json:"start"`
	ID         uuid.UUID  `json:"id"`
	AccountID  int64      `json:"-"`
	Enabled    bool       `json:"enabled"`
}

// Webhook is the per-account delivery endpoint for subscription.updated
// events. At most one active record per account; removal is a soft delete so
// rotation history survives.
type Webhook struct {
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	URL        string     `json:"url"`
	Secret     string     `json:"-"`
	AccountID  int64      `json:"-"`
	Enabled    bool       `json:"enabled"`
	Deleted    bool       `json:"-"`
}

// Usable reports whether deliveries should be attempted to this webhook.
func (w *Webhook) Usable() bool {
	return w != nil && w.Enabled && !w.Deleted && w.URL != ""
}
