package auth

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"github.com/brindlepay/subscription-service/internal/domain"
)

// CDPClaims are the claims read from a CDP end-user token. Subject carries
// the CDP user id; the wallet address claim is optional.
type CDPClaims struct {
	jwt.RegisteredClaims
	Address string `json:"walletAddress,omitempty"`
}

// CDPIdentity is the validated identity extracted from a token.
type CDPIdentity struct {
	Address   *common.Address
	CDPUserID string
}

// CDPValidator verifies CDP-issued JWTs against locally pinned public keys.
// Token issuance is the identity provider's job; this service only checks
// signatures and extracts the identity.
type CDPValidator struct {
	keys   *PublicKeyStore
	issuer string
	leeway time.Duration
}

// NewCDPValidator builds a validator. The issuer claim is enforced when
// issuer is non-empty.
func NewCDPValidator(keys *PublicKeyStore, issuer string) *CDPValidator {
	return &CDPValidator{
		keys:   keys,
		issuer: issuer,
		leeway: 30 * time.Second,
	}
}

// Validate parses and verifies the token. Every failure answers
// INVALID_API_KEY so the API layer maps the whole class to 401 uniformly.
func (v *CDPValidator) Validate(tokenString string) (*CDPIdentity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"ES256", "RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &CDPClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFor, opts...)
	if err != nil {
		return nil, domain.WrapPaymentError(domain.ErrorCodeInvalidAPIKey,
			"Invalid or expired token", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey,
			"Invalid or expired token")
	}

	identity := &CDPIdentity{CDPUserID: claims.Subject}
	if claims.Address != "" {
		if !common.IsHexAddress(claims.Address) {
			return nil, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey,
				"Token carries a malformed wallet address")
		}
		addr := common.HexToAddress(claims.Address)
		identity.Address = &addr
	}
	return identity, nil
}

// keyFor resolves the verification key from the kid header, falling back to
// the only pinned key when the token names none.
func (v *CDPValidator) keyFor(token *jwt.Token) (interface{}, error) {
	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		return v.keys.Get(kid)
	}
	key, ok := v.keys.Single()
	if !ok {
		return nil, fmt.Errorf("token names no key id and %d keys are pinned", v.keys.Len())
	}
	return key, nil
}
