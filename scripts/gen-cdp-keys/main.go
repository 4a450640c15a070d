// gen-cdp-keys creates a local ES256 keypair for CDP token auth and mints
// a signed development token. The public key lands in the keys directory
// the server loads at boot (CDP_KEYS_DIR); the private key gets a .key
// extension so the server never tries to load it as a verification key.
//
// Usage:
//
//	go run ./scripts/gen-cdp-keys -kid local -sub dev-user-1
//	curl -H "Authorization: Bearer $TOKEN" .../api/v1/cdpJWTValidate
package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/brindlepay/subscription-service/internal/auth"
)

var (
	dir     = flag.String("dir", "keys/cdp", "directory for the generated keys")
	kid     = flag.String("kid", "local", "key id; becomes the PEM file name and the token's kid header")
	subject = flag.String("sub", "dev-user-1", "CDP user id for the minted token")
	wallet  = flag.String("address", "", "optional wallet address claim")
	issuer  = flag.String("issuer", "", "issuer claim; leave empty unless the server pins CDP_ISSUER")
	ttl     = flag.Duration("ttl", 24*time.Hour, "token lifetime")
)

func main() {
	flag.Parse()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		log.Fatalf("create %s: %v", *dir, err)
	}

	pubPath := filepath.Join(*dir, *kid+".pem")
	if err := writePEM(pubPath, "PUBLIC KEY", mustMarshalPublic(key), 0o644); err != nil {
		log.Fatalf("write public key: %v", err)
	}
	privPath := filepath.Join(*dir, *kid+".key")
	if err := writePEM(privPath, "PRIVATE KEY", mustMarshalPrivate(key), 0o600); err != nil {
		log.Fatalf("write private key: %v", err)
	}

	token, err := mintToken(key)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}

	fmt.Printf("public key:  %s\n", pubPath)
	fmt.Printf("private key: %s\n", privPath)
	fmt.Printf("dev token (%s, expires in %s):\n%s\n", *subject, *ttl, token)
}

func mintToken(key *ecdsa.PrivateKey) (string, error) {
	now := time.Now()
	claims := &auth.CDPClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    *issuer,
			Subject:   *subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		},
		Address: *wallet,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = *kid
	return token.SignedString(key)
}

func mustMarshalPublic(key *ecdsa.PrivateKey) []byte {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		log.Fatalf("marshal public key: %v", err)
	}
	return der
}

func mustMarshalPrivate(key *ecdsa.PrivateKey) []byte {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		log.Fatalf("marshal private key: %v", err)
	}
	return der
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(path, data, mode)
}
