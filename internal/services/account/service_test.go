package account

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brindlepay/subscription-service/internal/auth"
	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/internal/testutil/mocks"
	"github.com/brindlepay/subscription-service/pkg/observability"
)

const testWalletHex = "0x52908400098527886E0F7030069857D2E4169EE7"

var (
	testWalletAddr = common.HexToAddress(testWalletHex)
	notFoundErr    = ports.NewStorageError(ports.StorageNotFound, "test", errors.New("no rows"))
)

func testAccount() *domain.Account {
	return &domain.Account{ID: 7, Address: testWalletAddr}
}

func newCDPService(t *testing.T) (*Service, *mocks.MockAccountStore, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	keys := auth.NewPublicKeyStore()
	keys.Add("main", &key.PublicKey)

	accounts := &mocks.MockAccountStore{}
	svc := NewService(accounts, auth.NewCDPValidator(keys, ""), observability.NewNopLogger(), true)
	return svc, accounts, key
}

func newKeyService(requireHTTPS bool) (*Service, *mocks.MockAccountStore) {
	accounts := &mocks.MockAccountStore{}
	return NewService(accounts, nil, observability.NewNopLogger(), requireHTTPS), accounts
}

func signCDPToken(t *testing.T, key *ecdsa.PrivateKey, wallet string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, auth.CDPClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "cdp-user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Address: wallet,
	})
	token.Header["kid"] = "main"
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestAuthenticate_CreatesAccountOnFirstSignIn(t *testing.T) {
	svc, accounts, key := newCDPService(t)
	accounts.On("UpsertAccount", mock.Anything, ports.UpsertAccountParams{
		CDPUserID: "cdp-user-123",
		Address:   testWalletAddr,
	}).Return(testAccount(), nil)

	account, err := svc.Authenticate(context.Background(), signCDPToken(t, key, testWalletHex))
	require.NoError(t, err)

	assert.Equal(t, int64(7), account.ID)
	accounts.AssertExpectations(t)
}

func TestAuthenticate_RejectsInvalidToken(t *testing.T) {
	svc, accounts, _ := newCDPService(t)

	_, err := svc.Authenticate(context.Background(), "not.a.jwt")
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeInvalidAPIKey))
	accounts.AssertNotCalled(t, "UpsertAccount")
}

func TestAuthenticate_RequiresWalletAddress(t *testing.T) {
	svc, accounts, key := newCDPService(t)

	_, err := svc.Authenticate(context.Background(), signCDPToken(t, key, ""))
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeInvalidRequest))
	accounts.AssertNotCalled(t, "UpsertAccount")
}

func TestAuthenticateKey_HappyPath(t *testing.T) {
	svc, accounts := newKeyService(true)
	generated, err := auth.NewKey()
	require.NoError(t, err)

	keyID := uuid.New()
	accounts.On("GetAPIKeyByHash", mock.Anything, generated.Hash).Return(&domain.APIKey{
		ID:        keyID,
		AccountID: 7,
		KeyHash:   generated.Hash,
		Start:     generated.Start,
		Enabled:   true,
	}, nil)
	accounts.On("TouchAPIKey", mock.Anything, keyID).Return(nil)
	accounts.On("GetAccountByID", mock.Anything, int64(7)).Return(testAccount(), nil)

	account, err := svc.AuthenticateKey(context.Background(), generated.Key)
	require.NoError(t, err)

	assert.Equal(t, testWalletAddr, account.Address)
	accounts.AssertExpectations(t)
}

func TestAuthenticateKey_MalformedKey(t *testing.T) {
	svc, accounts := newKeyService(true)

	for _, presented := range []string{"", "ck_", "sk_0123456789abcdef0123456789abcdef0123456789a"} {
		_, err := svc.AuthenticateKey(context.Background(), presented)
		assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeInvalidAPIKey), "key %q", presented)
	}
	accounts.AssertNotCalled(t, "GetAPIKeyByHash")
}

func TestAuthenticateKey_UnknownKey(t *testing.T) {
	svc, accounts := newKeyService(true)
	generated, err := auth.NewKey()
	require.NoError(t, err)
	accounts.On("GetAPIKeyByHash", mock.Anything, generated.Hash).Return(nil, notFoundErr)

	_, err = svc.AuthenticateKey(context.Background(), generated.Key)
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeInvalidAPIKey))
}

func TestAuthenticateKey_DisabledKey(t *testing.T) {
	svc, accounts := newKeyService(true)
	generated, err := auth.NewKey()
	require.NoError(t, err)
	accounts.On("GetAPIKeyByHash", mock.Anything, generated.Hash).Return(&domain.APIKey{
		ID:        uuid.New(),
		AccountID: 7,
		Enabled:   false,
	}, nil)

	_, err = svc.AuthenticateKey(context.Background(), generated.Key)

	// A disabled key answers exactly like an unknown one.
	require.Error(t, err)
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeInvalidAPIKey))
	assert.Contains(t, err.Error(), "Invalid API key")
	accounts.AssertNotCalled(t, "TouchAPIKey")
}

func TestAuthenticateKey_TouchFailureIsAdvisory(t *testing.T) {
	svc, accounts := newKeyService(true)
	generated, err := auth.NewKey()
	require.NoError(t, err)

	keyID := uuid.New()
	accounts.On("GetAPIKeyByHash", mock.Anything, generated.Hash).Return(&domain.APIKey{
		ID:        keyID,
		AccountID: 7,
		Enabled:   true,
	}, nil)
	accounts.On("TouchAPIKey", mock.Anything, keyID).Return(errors.New("deadlock"))
	accounts.On("GetAccountByID", mock.Anything, int64(7)).Return(testAccount(), nil)

	account, err := svc.AuthenticateKey(context.Background(), generated.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), account.ID)
}

func TestCreateAPIKey_HappyPath(t *testing.T) {
	svc, accounts := newKeyService(true)
	accounts.On("InsertAPIKey", mock.Anything, mock.MatchedBy(func(k *domain.APIKey) bool {
		return k.AccountID == 7 && k.Prefix == auth.KeyPrefix && k.Enabled && k.Name == "production"
	})).Return(nil)

	result, err := svc.CreateAPIKey(context.Background(), 7, "  production  ")
	require.NoError(t, err)

	assert.True(t, auth.ValidKeyFormat(result.Secret))
	assert.Equal(t, auth.HashKey(result.Secret), result.Key.KeyHash)
	assert.Equal(t, strings.TrimPrefix(result.Secret, auth.KeyPrefix)[:auth.StartChars], result.Key.Start)
	assert.NotEqual(t, uuid.Nil, result.Key.ID)
	accounts.AssertExpectations(t)
}

func TestCreateAPIKey_NameTooLong(t *testing.T) {
	svc, accounts := newKeyService(true)

	_, err := svc.CreateAPIKey(context.Background(), 7, strings.Repeat("x", auth.NameMaxLength+1))
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeInvalidRequest))
	accounts.AssertNotCalled(t, "InsertAPIKey")
}

func TestListAPIKeys(t *testing.T) {
	svc, accounts := newKeyService(true)
	accounts.On("ListAPIKeys", mock.Anything, int64(7)).Return([]domain.APIKey{
		{Name: "production", Start: "Ab3dEf"},
		{Name: "staging", Start: "Gh7jKl"},
	}, nil)

	keys, err := svc.ListAPIKeys(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "production", keys[0].Name)
}

func TestUpdateAPIKey_TrimsName(t *testing.T) {
	svc, accounts := newKeyService(true)
	keyID := uuid.New()
	name := "  staging  "
	enabled := false

	accounts.On("UpdateAPIKey", mock.Anything, mock.MatchedBy(func(p ports.UpdateAPIKeyParams) bool {
		return p.AccountID == 7 && p.KeyID == keyID && *p.Name == "staging" && !*p.Enabled
	})).Return(&domain.APIKey{ID: keyID, Name: "staging"}, nil)

	updated, err := svc.UpdateAPIKey(context.Background(), 7, UpdateAPIKeyParams{
		Name:    &name,
		Enabled: &enabled,
		KeyID:   keyID,
	})
	require.NoError(t, err)
	assert.Equal(t, "staging", updated.Name)
	accounts.AssertExpectations(t)
}

func TestUpdateAPIKey_NotFound(t *testing.T) {
	svc, accounts := newKeyService(true)
	accounts.On("UpdateAPIKey", mock.Anything, mock.Anything).Return(nil, notFoundErr)

	_, err := svc.UpdateAPIKey(context.Background(), 7, UpdateAPIKeyParams{KeyID: uuid.New()})
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeNotFound))
}

func TestDeleteAPIKey(t *testing.T) {
	svc, accounts := newKeyService(true)
	keyID := uuid.New()
	accounts.On("DeleteAPIKey", mock.Anything, int64(7), keyID).Return(nil)

	require.NoError(t, svc.DeleteAPIKey(context.Background(), 7, keyID))
	accounts.AssertExpectations(t)
}

func TestDeleteAPIKey_NotFound(t *testing.T) {
	svc, accounts := newKeyService(true)
	accounts.On("DeleteAPIKey", mock.Anything, int64(7), mock.Anything).Return(notFoundErr)

	err := svc.DeleteAPIKey(context.Background(), 7, uuid.New())
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeNotFound))
}

func TestCreateWebhook_HappyPath(t *testing.T) {
	svc, accounts := newKeyService(true)
	accounts.On("GetWebhook", mock.Anything, int64(7)).Return(nil, notFoundErr)
	accounts.On("PutWebhook", mock.Anything, mock.MatchedBy(func(w *domain.Webhook) bool {
		return w.AccountID == 7 && w.URL == "https://merchant.example.com/hooks" &&
			w.Enabled && strings.HasPrefix(w.Secret, auth.SecretPrefix)
	})).Return(nil)

	result, err := svc.CreateWebhook(context.Background(), 7, "https://merchant.example.com/hooks")
	require.NoError(t, err)

	assert.Equal(t, result.Webhook.Secret, result.Secret)
	assert.Equal(t, "https://merchant.example.com/hooks", result.Webhook.URL)
	accounts.AssertExpectations(t)
}

func TestCreateWebhook_AlreadyExists(t *testing.T) {
	svc, accounts := newKeyService(true)
	accounts.On("GetWebhook", mock.Anything, int64(7)).Return(&domain.Webhook{AccountID: 7}, nil)

	_, err := svc.CreateWebhook(context.Background(), 7, "https://merchant.example.com/hooks")
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeInvalidRequest))
	accounts.AssertNotCalled(t, "PutWebhook")
}

func TestCreateWebhook_SchemeRules(t *testing.T) {
	t.Run("https only when required", func(t *testing.T) {
		svc, accounts := newKeyService(true)

		_, err := svc.CreateWebhook(context.Background(), 7, "http://merchant.example.com/hooks")
		assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeInvalidRequest))
		accounts.AssertNotCalled(t, "PutWebhook")
	})

	t.Run("http allowed in development", func(t *testing.T) {
		svc, accounts := newKeyService(false)
		accounts.On("GetWebhook", mock.Anything, int64(7)).Return(nil, notFoundErr)
		accounts.On("PutWebhook", mock.Anything, mock.Anything).Return(nil)

		_, err := svc.CreateWebhook(context.Background(), 7, "http://localhost:9090/hooks")
		require.NoError(t, err)
	})
}

func TestCreateWebhook_RejectsBadURLs(t *testing.T) {
	svc, accounts := newKeyService(true)

	for _, raw := range []string{"", "merchant.example.com/hooks", "ftp://merchant.example.com", "https://"} {
		_, err := svc.CreateWebhook(context.Background(), 7, raw)
		assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeInvalidFormat), "url %q", raw)
	}
	accounts.AssertNotCalled(t, "GetWebhook")
}

func TestGetWebhook_NotFound(t *testing.T) {
	svc, accounts := newKeyService(true)
	accounts.On("GetWebhook", mock.Anything, int64(7)).Return(nil, notFoundErr)

	_, err := svc.GetWebhook(context.Background(), 7)
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeNotFound))
}

func TestUpdateWebhookURL(t *testing.T) {
	svc, accounts := newKeyService(true)
	accounts.On("UpdateWebhookURL", mock.Anything, int64(7), "https://merchant.example.com/v2/hooks").Return(nil)

	err := svc.UpdateWebhookURL(context.Background(), 7, "https://merchant.example.com/v2/hooks")
	require.NoError(t, err)
	accounts.AssertExpectations(t)
}

func TestUpdateWebhookURL_NotFound(t *testing.T) {
	svc, accounts := newKeyService(true)
	accounts.On("UpdateWebhookURL", mock.Anything, int64(7), mock.Anything).Return(notFoundErr)

	err := svc.UpdateWebhookURL(context.Background(), 7, "https://merchant.example.com/hooks")
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeNotFound))
}

func TestRotateWebhookSecret(t *testing.T) {
	svc, accounts := newKeyService(true)
	var stored string
	accounts.On("RotateWebhookSecret", mock.Anything, int64(7), mock.MatchedBy(func(secret string) bool {
		stored = secret
		return strings.HasPrefix(secret, auth.SecretPrefix)
	})).Return(nil)

	secret, err := svc.RotateWebhookSecret(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, stored, secret)
}

func TestRotateWebhookSecret_NotFound(t *testing.T) {
	svc, accounts := newKeyService(true)
	accounts.On("RotateWebhookSecret", mock.Anything, int64(7), mock.Anything).Return(notFoundErr)

	_, err := svc.RotateWebhookSecret(context.Background(), 7)
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeNotFound))
}

func TestDeleteWebhook(t *testing.T) {
	svc, accounts := newKeyService(true)
	accounts.On("DeleteWebhook", mock.Anything, int64(7)).Return(nil)

	require.NoError(t, svc.DeleteWebhook(context.Background(), 7))

	accounts.On("DeleteWebhook", mock.Anything, int64(9)).Return(notFoundErr)
	err := svc.DeleteWebhook(context.Background(), 9)
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeNotFound))
}
