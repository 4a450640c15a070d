// Seed creates a development account with an API key, and optionally a
// webhook endpoint, against a local database. Secrets print once to stdout
// the same way the API returns them once.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brindlepay/subscription-service/internal/adapters/postgres"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/internal/services/account"
	"github.com/brindlepay/subscription-service/pkg/observability"
)

var (
	address    = flag.String("address", "0x52908400098527886E0F7030069857D2E4169EE7", "wallet address for the dev account")
	cdpUserID  = flag.String("cdp-user", "dev-user-1", "CDP user id to link to the account")
	keyName    = flag.String("key-name", "dev", "name for the seeded API key")
	webhookURL = flag.String("webhook-url", "", "register a webhook endpoint (plain http allowed here)")
)

func main() {
	flag.Parse()

	if !common.IsHexAddress(*address) {
		log.Fatalf("not a hex address: %s", *address)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsnFromEnv())
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("connect to database: %v", err)
	}

	logger := observability.NewNopLogger()
	store := postgres.NewStore(postgres.NewDBExecutor(pool), logger)
	svc := account.NewService(store, nil, logger, false)

	acct, err := store.UpsertAccount(ctx, ports.UpsertAccountParams{
		CDPUserID: *cdpUserID,
		Address:   common.HexToAddress(*address),
	})
	if err != nil {
		log.Fatalf("upsert account: %v", err)
	}
	fmt.Printf("account %d (%s)\n", acct.ID, acct.Address.Hex())

	key, err := svc.CreateAPIKey(ctx, acct.ID, *keyName)
	if err != nil {
		log.Fatalf("create api key: %v", err)
	}
	fmt.Printf("api key %q: %s\n", key.Key.Name, key.Secret)

	if *webhookURL != "" {
		wh, err := svc.CreateWebhook(ctx, acct.ID, *webhookURL)
		if err != nil {
			log.Fatalf("create webhook: %v", err)
		}
		fmt.Printf("webhook %s\n  signing secret: %s\n", wh.Webhook.URL, wh.Secret)
	}

	fmt.Println("Secrets above are shown once; the database keeps only hashes.")
}

func dsnFromEnv() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_NAME", "subscription_service"),
		getEnv("DB_SSL_MODE", "disable"),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
