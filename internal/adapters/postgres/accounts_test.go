package postgres_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

func TestStore_UpsertAccount(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	store := newTestStore(pool)

	address := randomAddress(t)
	account, err := store.UpsertAccount(ctx, ports.UpsertAccountParams{
		Address:   address,
		CDPUserID: "cdp-user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, address, account.Address)
	require.NotNil(t, account.CDPUserID)
	assert.Equal(t, "cdp-user-1", *account.CDPUserID)

	t.Run("same address returns same account", func(t *testing.T) {
		again, err := store.UpsertAccount(ctx, ports.UpsertAccountParams{
			Address:   address,
			CDPUserID: "cdp-user-1",
		})
		require.NoError(t, err)
		assert.Equal(t, account.ID, again.ID)
	})

	t.Run("first linked identity is kept", func(t *testing.T) {
		again, err := store.UpsertAccount(ctx, ports.UpsertAccountParams{
			Address: address,
		})
		require.NoError(t, err)
		require.NotNil(t, again.CDPUserID)
		assert.Equal(t, "cdp-user-1", *again.CDPUserID)
	})

	t.Run("lookup by address and id", func(t *testing.T) {
		byAddr, err := store.GetAccountByAddress(ctx, address)
		require.NoError(t, err)
		assert.Equal(t, account.ID, byAddr.ID)

		byID, err := store.GetAccountByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, address, byID.Address)

		_, err = store.GetAccountByAddress(ctx, randomAddress(t))
		require.Error(t, err)
		assert.True(t, ports.IsNotFound(err))
	})
}

func TestStore_SetSubscriptionOwner(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	store := newTestStore(pool)

	account, err := store.UpsertAccount(ctx, ports.UpsertAccountParams{Address: randomAddress(t)})
	require.NoError(t, err)

	owner := randomAddress(t)
	require.NoError(t, store.SetSubscriptionOwner(ctx, account.ID, owner))

	// Same owner again is a no-op
	require.NoError(t, store.SetSubscriptionOwner(ctx, account.ID, owner))

	loaded, err := store.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.SubscriptionOwner)
	assert.Equal(t, owner, *loaded.SubscriptionOwner)

	t.Run("different owner conflicts", func(t *testing.T) {
		err := store.SetSubscriptionOwner(ctx, account.ID, randomAddress(t))
		require.Error(t, err)
		assert.True(t, ports.IsConflict(err))
	})

	t.Run("unknown account", func(t *testing.T) {
		err := store.SetSubscriptionOwner(ctx, 999999999, owner)
		require.Error(t, err)
		assert.True(t, ports.IsNotFound(err))
	})
}

func TestStore_APIKeys(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	store := newTestStore(pool)

	account, err := store.UpsertAccount(ctx, ports.UpsertAccountParams{Address: randomAddress(t)})
	require.NoError(t, err)

	key := &domain.APIKey{
		ID:        uuid.New(),
		AccountID: account.ID,
		KeyHash:   "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Name:      "production",
		Prefix:    "ck_",
		Start:     "ck_a1b2c3",
		Enabled:   true,
	}
	require.NoError(t, store.InsertAPIKey(ctx, key))

	t.Run("duplicate hash conflicts", func(t *testing.T) {
		dup := *key
		dup.ID = uuid.New()
		err := store.InsertAPIKey(ctx, &dup)
		require.Error(t, err)
		assert.True(t, ports.IsConflict(err))
	})

	t.Run("lookup by hash", func(t *testing.T) {
		loaded, err := store.GetAPIKeyByHash(ctx, key.KeyHash)
		require.NoError(t, err)
		assert.Equal(t, key.ID, loaded.ID)
		assert.Equal(t, account.ID, loaded.AccountID)
		assert.Equal(t, "production", loaded.Name)
		assert.True(t, loaded.Enabled)
		assert.Nil(t, loaded.LastUsedAt)
	})

	t.Run("touch stamps last_used_at", func(t *testing.T) {
		require.NoError(t, store.TouchAPIKey(ctx, key.ID))
		loaded, err := store.GetAPIKeyByHash(ctx, key.KeyHash)
		require.NoError(t, err)
		assert.NotNil(t, loaded.LastUsedAt)
	})

	t.Run("update name and enabled", func(t *testing.T) {
		name := "staging"
		enabled := false
		updated, err := store.UpdateAPIKey(ctx, ports.UpdateAPIKeyParams{
			KeyID:     key.ID,
			AccountID: account.ID,
			Name:      &name,
			Enabled:   &enabled,
		})
		require.NoError(t, err)
		assert.Equal(t, "staging", updated.Name)
		assert.False(t, updated.Enabled)

		// Partial update keeps the other field
		enabled = true
		updated, err = store.UpdateAPIKey(ctx, ports.UpdateAPIKeyParams{
			KeyID:     key.ID,
			AccountID: account.ID,
			Enabled:   &enabled,
		})
		require.NoError(t, err)
		assert.Equal(t, "staging", updated.Name)
		assert.True(t, updated.Enabled)
	})

	t.Run("wrong account cannot update", func(t *testing.T) {
		name := "stolen"
		_, err := store.UpdateAPIKey(ctx, ports.UpdateAPIKeyParams{
			KeyID:     key.ID,
			AccountID: account.ID + 1,
			Name:      &name,
		})
		require.Error(t, err)
		assert.True(t, ports.IsNotFound(err))
	})

	t.Run("list and delete", func(t *testing.T) {
		keys, err := store.ListAPIKeys(ctx, account.ID)
		require.NoError(t, err)
		require.Len(t, keys, 1)

		require.NoError(t, store.DeleteAPIKey(ctx, account.ID, key.ID))

		_, err = store.GetAPIKeyByHash(ctx, key.KeyHash)
		require.Error(t, err)
		assert.True(t, ports.IsNotFound(err))

		err = store.DeleteAPIKey(ctx, account.ID, key.ID)
		require.Error(t, err)
		assert.True(t, ports.IsNotFound(err))
	})
}

func TestStore_Webhooks(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	store := newTestStore(pool)

	account, err := store.UpsertAccount(ctx, ports.UpsertAccountParams{Address: randomAddress(t)})
	require.NoError(t, err)

	webhook := &domain.Webhook{
		AccountID: account.ID,
		URL:       "https://merchant.example.com/hooks",
		Secret:    "whsec_0123456789abcdef",
		Enabled:   true,
	}
	require.NoError(t, store.PutWebhook(ctx, webhook))

	loaded, err := store.GetWebhook(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, webhook.URL, loaded.URL)
	assert.Equal(t, webhook.Secret, loaded.Secret)
	assert.True(t, loaded.Usable())

	t.Run("rotate secret", func(t *testing.T) {
		require.NoError(t, store.RotateWebhookSecret(ctx, account.ID, "whsec_fedcba9876543210"))
		loaded, err := store.GetWebhook(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "whsec_fedcba9876543210", loaded.Secret)
	})

	t.Run("update url", func(t *testing.T) {
		require.NoError(t, store.UpdateWebhookURL(ctx, account.ID, "https://merchant.example.com/v2/hooks"))
		loaded, err := store.GetWebhook(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://merchant.example.com/v2/hooks", loaded.URL)
	})

	t.Run("touch stamps last_used_at", func(t *testing.T) {
		require.NoError(t, store.TouchWebhook(ctx, account.ID))
		loaded, err := store.GetWebhook(ctx, account.ID)
		require.NoError(t, err)
		assert.NotNil(t, loaded.LastUsedAt)
	})

	t.Run("delete hides the endpoint", func(t *testing.T) {
		require.NoError(t, store.DeleteWebhook(ctx, account.ID))

		_, err := store.GetWebhook(ctx, account.ID)
		require.Error(t, err)
		assert.True(t, ports.IsNotFound(err))

		err = store.DeleteWebhook(ctx, account.ID)
		require.Error(t, err)
		assert.True(t, ports.IsNotFound(err))
	})

	t.Run("put after delete reinstalls", func(t *testing.T) {
		require.NoError(t, store.PutWebhook(ctx, webhook))
		loaded, err := store.GetWebhook(ctx, account.ID)
		require.NoError(t, err)
		assert.False(t, loaded.Deleted)
		assert.Nil(t, loaded.LastUsedAt)
	})
}
