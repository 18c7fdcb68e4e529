//go:build integration
// +build integration

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kards-Stats/kards-tools/pkg/accounts"
	"github.com/Kards-Stats/kards-tools/pkg/common"
)

// This is a manual integration test for the Redis account store
// Run this with: go run test_redis_integration.go
// Requires: Redis running on localhost:6379

func main() {
	logrus.SetLevel(logrus.DebugLevel)
	logrus.Infof("Starting Redis integration test...")

	ctx := context.Background()

	host := common.GetEnv("REDIS_HOST", "localhost")
	port := common.GetEnv("REDIS_PORT", "6379")
	retries := common.GetEnvInt("REDIS_MAX_RETRIES", 5)

	client, err := accounts.InitRedisClient(ctx, host, port, os.Getenv("REDIS_PASSWORD"), retries, time.Second)
	if err != nil {
		logrus.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer client.Close()

	connector := accounts.NewRedisConnector(client, accounts.RedisConnectorConfig{})
	username := fmt.Sprintf("test-account-%d", time.Now().Unix())
	logrus.Infof("Testing with account: %s", username)

	// Test 1: Create account
	logrus.Infof("\n=== Test 1: Create account ===")
	account, err := connector.AddAccount(ctx, username, "secret", "integration")
	if err != nil {
		logrus.Fatalf("AddAccount failed: %v", err)
	}
	logrus.Infof("✓ Created account: %s (pool %s)", account.Username, account.Type)

	// Test 2: New account is the oldest in its pool
	logrus.Infof("\n=== Test 2: Oldest-first selection ===")
	oldest, err := connector.GetOldest(ctx, "integration")
	if err != nil {
		logrus.Fatalf("GetOldest failed: %v", err)
	}
	if oldest == nil || oldest.Username != username {
		logrus.Fatalf("❌ GetOldest returned %+v, expected %s", oldest, username)
	}
	logrus.Infof("✓ New account selected as oldest")

	// Test 3: Record a Steam login
	logrus.Infof("\n=== Test 3: Record Steam login ===")
	account, err = connector.AddSteamLogin(ctx, username, "76561198000000001", "deadbeef")
	if err != nil {
		logrus.Fatalf("AddSteamLogin failed: %v", err)
	}
	if account.SteamID != "76561198000000001" || account.Ticket != "deadbeef" {
		logrus.Fatalf("❌ Credentials not persisted: %+v", account)
	}
	logrus.Infof("✓ Steam login recorded at %v", account.LastSteamLogin)

	// Test 4: Record a Kards login
	logrus.Infof("\n=== Test 4: Record Kards login ===")
	account, err = connector.AddKardsLogin(ctx, username)
	if err != nil {
		logrus.Fatalf("AddKardsLogin failed: %v", err)
	}
	logrus.Infof("✓ Kards login recorded at %v", account.LastKardsLogin)

	// Test 5: Ban removes the account from rotation and clears credentials
	logrus.Infof("\n=== Test 5: Ban handling ===")
	account, err = connector.SetBanned(ctx, username, true)
	if err != nil {
		logrus.Fatalf("SetBanned failed: %v", err)
	}
	if !account.Banned || account.SteamID != "" || account.Ticket != "" {
		logrus.Fatalf("❌ Ban should clear credentials: %+v", account)
	}
	oldest, err = connector.GetOldest(ctx, "integration")
	if err != nil {
		logrus.Fatalf("GetOldest failed: %v", err)
	}
	if oldest != nil && oldest.Username == username {
		logrus.Fatalf("❌ Banned account still in rotation")
	}
	logrus.Infof("✓ Banned account dropped from rotation")

	// Test 6: Sentry blob round trip
	logrus.Infof("\n=== Test 6: Sentry blob storage ===")
	blob := []byte{0x01, 0x02, 0x03}
	if err := connector.SaveFile(ctx, "sentry."+username, blob); err != nil {
		logrus.Fatalf("SaveFile failed: %v", err)
	}
	read, err := connector.ReadFile(ctx, "sentry."+username)
	if err != nil {
		logrus.Fatalf("ReadFile failed: %v", err)
	}
	if len(read) != len(blob) {
		logrus.Fatalf("❌ Blob mismatch: %v", read)
	}
	logrus.Infof("✓ Sentry blob round trip")

	logrus.Infof("\n==================================================")
	logrus.Infof("✅ All Redis integration tests passed!")
	logrus.Infof("==================================================")
}
