package postgres

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

const accountColumns = `id, address, cdp_user_id, subscription_owner, created_at`

const apiKeyColumns = `id, account_id, key_hash, name, prefix, start, enabled, created_at, last_used_at`

const webhookColumns = `account_id, url, secret, enabled, deleted, created_at, last_used_at`

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a       domain.Account
		address string
		owner   *string
	)
	if err := row.Scan(&a.ID, &address, &a.CDPUserID, &owner, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Address = common.HexToAddress(address)
	if owner != nil {
		addr := common.HexToAddress(*owner)
		a.SubscriptionOwner = &addr
	}
	return &a, nil
}

func scanAPIKey(row rowScanner) (*domain.APIKey, error) {
	var k domain.APIKey
	if err := row.Scan(
		&k.ID, &k.AccountID, &k.KeyHash, &k.Name, &k.Prefix, &k.Start,
		&k.Enabled, &k.CreatedAt, &k.LastUsedAt,
	); err != nil {
		return nil, err
	}
	return &k, nil
}

func scanWebhook(row rowScanner) (*domain.Webhook, error) {
	var w domain.Webhook
	if err := row.Scan(
		&w.AccountID, &w.URL, &w.Secret, &w.Enabled, &w.Deleted,
		&w.CreatedAt, &w.LastUsedAt,
	); err != nil {
		return nil, err
	}
	return &w, nil
}

// UpsertAccount creates the merchant account on first sign-in and returns the
// existing row on every later one. The wallet address is the identity; the
// first CDP user linked to it stays linked.
func (s *Store) UpsertAccount(ctx context.Context, params ports.UpsertAccountParams) (*domain.Account, error) {
	account, err := scanAccount(s.db.GetDB().QueryRow(ctx, `
		INSERT INTO accounts (address, cdp_user_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (address) DO UPDATE
		SET cdp_user_id = COALESCE(accounts.cdp_user_id, EXCLUDED.cdp_user_id)
		RETURNING `+accountColumns,
		params.Address.Hex(),
		nilIfEmpty(params.CDPUserID),
	))
	if err != nil {
		return nil, wrapStoreErr("upsertAccount", err)
	}
	return account, nil
}

func (s *Store) GetAccountByAddress(ctx context.Context, address common.Address) (*domain.Account, error) {
	account, err := scanAccount(s.db.GetDB().QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE address = $1`,
		address.Hex(),
	))
	if err != nil {
		return nil, wrapStoreErr("getAccountByAddress", err)
	}
	return account, nil
}

func (s *Store) GetAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	account, err := scanAccount(s.db.GetDB().QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapStoreErr("getAccountByID", err)
	}
	return account, nil
}

// SetSubscriptionOwner records the wallet that signs spend permissions for
// this account. Set once; writing the same owner again is a no-op, a
// different owner is a conflict.
func (s *Store) SetSubscriptionOwner(ctx context.Context, accountID int64, owner common.Address) error {
	tag, err := s.db.GetDB().Exec(ctx, `
		UPDATE accounts SET subscription_owner = $2
		WHERE id = $1 AND (subscription_owner IS NULL OR subscription_owner = $2)`,
		accountID,
		owner.Hex(),
	)
	if err != nil {
		return wrapStoreErr("setSubscriptionOwner", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.GetDB().QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`,
			accountID,
		).Scan(&exists); err != nil {
			return wrapStoreErr("setSubscriptionOwner", err)
		}
		if exists {
			return ports.NewStorageError(ports.StorageConflict, "setSubscriptionOwner",
				errors.New("a different subscription owner is already recorded"))
		}
		return wrapStoreErr("setSubscriptionOwner", pgx.ErrNoRows)
	}
	return nil
}

func (s *Store) InsertAPIKey(ctx context.Context, key *domain.APIKey) error {
	_, err := s.db.GetDB().Exec(ctx, `
		INSERT INTO api_keys (id, account_id, key_hash, name, prefix, start, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		key.ID,
		key.AccountID,
		key.KeyHash,
		key.Name,
		key.Prefix,
		key.Start,
		key.Enabled,
	)
	if err != nil {
		return wrapStoreErr("insertAPIKey", err)
	}
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	key, err := scanAPIKey(s.db.GetDB().QueryRow(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`,
		keyHash,
	))
	if err != nil {
		return nil, wrapStoreErr("getAPIKeyByHash", err)
	}
	return key, nil
}

func (s *Store) ListAPIKeys(ctx context.Context, accountID int64) ([]domain.APIKey, error) {
	rows, err := s.db.GetDB().Query(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE account_id = $1
		ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, wrapStoreErr("listAPIKeys", err)
	}
	defer rows.Close()

	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, wrapStoreErr("listAPIKeys", err)
		}
		keys = append(keys, *key)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("listAPIKeys", err)
	}
	return keys, nil
}

func (s *Store) UpdateAPIKey(ctx context.Context, params ports.UpdateAPIKeyParams) (*domain.APIKey, error) {
	key, err := scanAPIKey(s.db.GetDB().QueryRow(ctx, `
		UPDATE api_keys
		SET name    = COALESCE($3, name),
		    enabled = COALESCE($4, enabled)
		WHERE id = $1 AND account_id = $2
		RETURNING `+apiKeyColumns,
		params.KeyID,
		params.AccountID,
		params.Name,
		params.Enabled,
	))
	if err != nil {
		return nil, wrapStoreErr("updateAPIKey", err)
	}
	return key, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, accountID int64, keyID uuid.UUID) error {
	tag, err := s.db.GetDB().Exec(ctx, `
		DELETE FROM api_keys WHERE id = $1 AND account_id = $2`,
		keyID,
		accountID,
	)
	if err != nil {
		return wrapStoreErr("deleteAPIKey", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreErr("deleteAPIKey", pgx.ErrNoRows)
	}
	return nil
}

// TouchAPIKey stamps last_used_at. Fire and forget from the auth path, so
// failures surface as errors but never block a request.
func (s *Store) TouchAPIKey(ctx context.Context, keyID uuid.UUID) error {
	_, err := s.db.GetDB().Exec(ctx, `
		UPDATE api_keys SET last_used_at = now() WHERE id = $1`,
		keyID,
	)
	if err != nil {
		return wrapStoreErr("touchAPIKey", err)
	}
	return nil
}

// PutWebhook installs the account's webhook endpoint, replacing a previous
// one. One endpoint per account.
func (s *Store) PutWebhook(ctx context.Context, webhook *domain.Webhook) error {
	_, err := s.db.GetDB().Exec(ctx, `
		INSERT INTO webhooks (account_id, url, secret, enabled, deleted, created_at)
		VALUES ($1, $2, $3, $4, false, now())
		ON CONFLICT (account_id) DO UPDATE
		SET url          = EXCLUDED.url,
		    secret       = EXCLUDED.secret,
		    enabled      = EXCLUDED.enabled,
		    deleted      = false,
		    created_at   = now(),
		    last_used_at = NULL`,
		webhook.AccountID,
		webhook.URL,
		webhook.Secret,
		webhook.Enabled,
	)
	if err != nil {
		return wrapStoreErr("putWebhook", err)
	}
	return nil
}

func (s *Store) GetWebhook(ctx context.Context, accountID int64) (*domain.Webhook, error) {
	webhook, err := scanWebhook(s.db.GetDB().QueryRow(ctx, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE account_id = $1 AND deleted = false`,
		accountID,
	))
	if err != nil {
		return nil, wrapStoreErr("getWebhook", err)
	}
	return webhook, nil
}

func (s *Store) UpdateWebhookURL(ctx context.Context, accountID int64, url string) error {
	tag, err := s.db.GetDB().Exec(ctx, `
		UPDATE webhooks SET url = $2
		WHERE account_id = $1 AND deleted = false`,
		accountID,
		url,
	)
	if err != nil {
		return wrapStoreErr("updateWebhookURL", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreErr("updateWebhookURL", pgx.ErrNoRows)
	}
	return nil
}

func (s *Store) RotateWebhookSecret(ctx context.Context, accountID int64, secret string) error {
	tag, err := s.db.GetDB().Exec(ctx, `
		UPDATE webhooks SET secret = $2
		WHERE account_id = $1 AND deleted = false`,
		accountID,
		secret,
	)
	if err != nil {
		return wrapStoreErr("rotateWebhookSecret", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreErr("rotateWebhookSecret", pgx.ErrNoRows)
	}
	return nil
}

// DeleteWebhook soft-deletes so in-flight deliveries referencing the secret
// can still be audited.
func (s *Store) DeleteWebhook(ctx context.Context, accountID int64) error {
	tag, err := s.db.GetDB().Exec(ctx, `
		UPDATE webhooks SET deleted = true, enabled = false
		WHERE account_id = $1 AND deleted = false`,
		accountID,
	)
	if err != nil {
		return wrapStoreErr("deleteWebhook", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreErr("deleteWebhook", pgx.ErrNoRows)
	}
	return nil
}

func (s *Store) TouchWebhook(ctx context.Context, accountID int64) error {
	_, err := s.db.GetDB().Exec(ctx, `
		UPDATE webhooks SET last_used_at = now() WHERE account_id = $1`,
		accountID,
	)
	if err != nil {
		return wrapStoreErr("touchWebhook", err)
	}
	return nil
}
