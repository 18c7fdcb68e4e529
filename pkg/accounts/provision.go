package accounts

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ProvisionConfig is the accounts provisioning file.
type ProvisionConfig struct {
	Accounts []ProvisionAccount `yaml:"accounts"`
}

// ProvisionAccount is one credential entry in the provisioning file.
type ProvisionAccount struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Type     string `yaml:"type"`
}

// LoadAccountsFile loads the provisioning file from a YAML file.
// Supports environment variable expansion in the form ${VAR_NAME} or ${VAR_NAME:default}.
func LoadAccountsFile(path string) (*ProvisionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))

	var config ProvisionConfig
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML accounts file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid accounts file: %w", err)
	}

	return &config, nil
}

// Validate validates the provisioning file for common errors.
func (c *ProvisionConfig) Validate() error {
	seen := make(map[string]bool)
	for _, account := range c.Accounts {
		if account.Username == "" {
			return fmt.Errorf("account with empty username found")
		}
		if seen[account.Username] {
			return fmt.Errorf("duplicate account username: %s", account.Username)
		}
		seen[account.Username] = true

		if account.Password == "" {
			return fmt.Errorf("account %s has empty password", account.Username)
		}
		if account.Type == "" || account.Type == AnyPool {
			return fmt.Errorf("account %s needs a concrete pool type", account.Username)
		}
	}
	return nil
}

// Provision upserts every account from the file into the store. Accounts
// that already exist keep their login state. Individual failures are logged
// and counted, not fatal, so one bad entry does not block the rest.
func Provision(ctx context.Context, connector Connector, config *ProvisionConfig) (int, error) {
	saved := 0
	var lastErr error
	for _, entry := range config.Accounts {
		account, err := connector.AddAccount(ctx, entry.Username, entry.Password, entry.Type)
		if err != nil {
			logrus.Errorf("failed to provision account %s: %v", entry.Username, err)
			lastErr = err
			continue
		}
		logrus.Infof("provisioned account %s (pool %s)", account.Username, account.Type)
		saved++
	}
	if saved == 0 && lastErr != nil {
		return 0, lastErr
	}
	return saved, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} references with values
// from the environment.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		fallback := groups[2]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return fallback
	})
}

// String renders the pool summary used by the status command.
func (c *ProvisionConfig) String() string {
	types := make(map[string]int)
	for _, account := range c.Accounts {
		types[account.Type]++
	}
	parts := make([]string, 0, len(types))
	for poolType, count := range types {
		parts = append(parts, fmt.Sprintf("%s=%d", poolType, count))
	}
	return strings.Join(parts, " ")
}
