package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/mirovsky/gwdirector/internal/logger"
	"github.com/mirovsky/gwdirector/pkg/config"
	"github.com/mirovsky/gwdirector/pkg/directory"
	"github.com/mirovsky/gwdirector/pkg/secrets"
)

// setup loads the configuration and initialises the logger from it.
func setup() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// loadCredential returns the service-account key material, from disk when
// auth.sa_key is set, otherwise from Secret Manager.
func loadCredential(ctx context.Context, cfg *config.Config) ([]byte, error) {
	if cfg.Auth.SAKey != "" {
		key, err := os.ReadFile(cfg.Auth.SAKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read service account key: %w", err)
		}
		return key, nil
	}
	return secrets.AccessSecret(ctx, cfg.Auth.SecretResource, cfg.Auth.SecretVersion)
}

// newDirectoryClient builds an authenticated, paced directory client for the
// given scopes.
func newDirectoryClient(ctx context.Context, cfg *config.Config, scopes []string) (*directory.Client, error) {
	key, err := loadCredential(ctx, cfg)
	if err != nil {
		return nil, err
	}
	customer, domain := cfg.Scope.Resolved()
	return directory.NewClient(ctx, key, cfg.Auth.Impersonate, scopes, directory.Config{
		Customer:   customer,
		Domain:     domain,
		RPS:        cfg.API.RPS,
		MaxRetries: cfg.API.MaxRetries,
	})
}
