package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	accountKeyPrefix = "kards_tools:account:"
	indexKeyPrefix   = "kards_tools:account_index:"
	fileKeyPrefix    = "kards_tools:file:"
)

// InitRedisClient initializes and returns a Redis client, retrying the
// initial ping with exponential backoff.
func InitRedisClient(ctx context.Context, host, port, password string, maxRetries int, retryDelay time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         host + ":" + port,
		Password:     password,
		DB:           0, // use default DB
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryDelay
	err := backoff.Retry(
		func() error {
			if _, err := client.Ping(ctx).Result(); err != nil {
				logrus.Warnf("Redis connection failed: %v, retrying...", err)
				return err
			}
			return nil
		},
		backoff.WithMaxRetries(b, uint64(maxRetries)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s:%s: %w", host, port, err)
	}

	logrus.Infof("connected to Redis at %s:%s", host, port)
	return client, nil
}

// RedisConnector stores one JSON document per account plus a sorted-set
// index per pool type scored by the last Steam login, so GetOldest is a
// single ZRANGE. Banned accounts are dropped from the indexes.
type RedisConnector struct {
	client redis.UniversalClient
	cfg    RedisConnectorConfig
}

type RedisConnectorConfig struct{}

func NewRedisConnector(client redis.UniversalClient, cfg RedisConnectorConfig) *RedisConnector {
	return &RedisConnector{
		client: client,
		cfg:    cfg,
	}
}

func accountKey(username string) string {
	return accountKeyPrefix + username
}

func indexKey(poolType string) string {
	return indexKeyPrefix + poolType
}

func fileKey(name string) string {
	return fileKeyPrefix + name
}

func (r *RedisConnector) getAccount(ctx context.Context, username string) (*Account, error) {
	data, err := r.client.Get(ctx, accountKey(username)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", username, err)
	}

	var account Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account %s: %w", username, err)
	}
	return &account, nil
}

func (r *RedisConnector) saveAccount(ctx context.Context, account *Account) error {
	account.UpdatedAt = time.Now()

	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account %s: %w", account.Username, err)
	}
	if err := r.client.Set(ctx, accountKey(account.Username), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set account %s: %w", account.Username, err)
	}

	return r.reindexAccount(ctx, account)
}

// reindexAccount keeps the per-type and any-pool indexes in line with the
// account document.
func (r *RedisConnector) reindexAccount(ctx context.Context, account *Account) error {
	keys := []string{indexKey(account.Type), indexKey(AnyPool)}
	for _, key := range keys {
		if account.Banned {
			if err := r.client.ZRem(ctx, key, account.Username).Err(); err != nil {
				return fmt.Errorf("failed to remove %s from index %s: %w", account.Username, key, err)
			}
			continue
		}
		member := &redis.Z{
			Score:  float64(account.LastSteamLogin.Unix()),
			Member: account.Username,
		}
		if err := r.client.ZAdd(ctx, key, member).Err(); err != nil {
			return fmt.Errorf("failed to index %s in %s: %w", account.Username, key, err)
		}
	}
	return nil
}

func (r *RedisConnector) AddAccount(ctx context.Context, username, password, poolType string) (*Account, error) {
	logrus.Debugf("AddAccount(%s, %s)", username, poolType)
	if username == "" || password == "" || poolType == "" {
		return nil, fmt.Errorf("empty arguments for AddAccount")
	}

	existing, err := r.getAccount(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Re-provisioning only refreshes the password, login state survives.
		existing.Password = password
		if err := r.saveAccount(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	account := &Account{
		Username:       username,
		Password:       password,
		Type:           poolType,
		Banned:         false,
		LastSteamLogin: time.Unix(0, 0).UTC(),
		LastKardsLogin: time.Unix(0, 0).UTC(),
		CreatedAt:      time.Now(),
	}
	if err := r.saveAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *RedisConnector) GetUser(ctx context.Context, username string) (*Account, error) {
	logrus.Debugf("GetUser(%s)", username)
	return r.getAccount(ctx, username)
}

func (r *RedisConnector) GetOldest(ctx context.Context, poolType string) (*Account, error) {
	logrus.Debugf("GetOldest(%s)", poolType)
	usernames, err := r.client.ZRange(ctx, indexKey(poolType), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range index %s: %w", poolType, err)
	}

	for _, username := range usernames {
		account, err := r.getAccount(ctx, username)
		if err != nil {
			return nil, err
		}
		if account == nil || account.Banned {
			// Stale index entry, drop it and keep looking.
			r.client.ZRem(ctx, indexKey(poolType), username)
			continue
		}
		return account, nil
	}
	return nil, nil
}

func (r *RedisConnector) GetUnbanned(ctx context.Context, poolType string) ([]*Account, error) {
	logrus.Debugf("GetUnbanned(%s)", poolType)
	usernames, err := r.client.ZRange(ctx, indexKey(poolType), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range index %s: %w", poolType, err)
	}

	result := make([]*Account, 0, len(usernames))
	for _, username := range usernames {
		account, err := r.getAccount(ctx, username)
		if err != nil {
			return nil, err
		}
		if account == nil || account.Banned {
			continue
		}
		result = append(result, account)
	}
	return result, nil
}

func (r *RedisConnector) AddSteamLogin(ctx context.Context, username, steamID, ticket string) (*Account, error) {
	logrus.Debugf("AddSteamLogin(%s, %s)", username, steamID)
	account, err := r.getAccount(ctx, username)
	if err != nil || account == nil {
		return nil, err
	}

	account.SteamID = steamID
	account.Ticket = ticket
	account.LastSteamLogin = time.Now()
	if err := r.saveAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *RedisConnector) AddKardsLogin(ctx context.Context, username string) (*Account, error) {
	logrus.Debugf("AddKardsLogin(%s)", username)
	account, err := r.getAccount(ctx, username)
	if err != nil || account == nil {
		return nil, err
	}

	account.LastKardsLogin = time.Now()
	if err := r.saveAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *RedisConnector) SetBanned(ctx context.Context, username string, banned bool) (*Account, error) {
	logrus.Debugf("SetBanned(%s, %v)", username, banned)
	account, err := r.getAccount(ctx, username)
	if err != nil || account == nil {
		return nil, err
	}

	account.Banned = banned
	account.SteamID = ""
	account.Ticket = ""
	if err := r.saveAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *RedisConnector) SaveFile(ctx context.Context, name string, contents []byte) error {
	logrus.Debugf("SaveFile(%s, %d bytes)", name, len(contents))
	if err := r.client.Set(ctx, fileKey(name), contents, 0).Err(); err != nil {
		return fmt.Errorf("failed to save file %s: %w", name, err)
	}
	return nil
}

func (r *RedisConnector) ReadFile(ctx context.Context, name string) ([]byte, error) {
	logrus.Debugf("ReadFile(%s)", name)
	data, err := r.client.Get(ctx, fileKey(name)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", name, err)
	}
	return data, nil
}
