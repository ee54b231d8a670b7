package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/forwarder/internal/adapters/platform/httpapi"
	"github.com/bnema/forwarder/internal/adapters/platform/loopback"
	statusadapter "github.com/bnema/forwarder/internal/adapters/render/status"
	tomlrepo "github.com/bnema/forwarder/internal/adapters/repo/toml"
	chainstore "github.com/bnema/forwarder/internal/adapters/secrets/chain"
	filestore "github.com/bnema/forwarder/internal/adapters/secrets/file"
	"github.com/bnema/forwarder/internal/application"
	"github.com/bnema/forwarder/internal/config"
	"github.com/bnema/forwarder/internal/dispatch"
	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/logging"
	"github.com/bnema/forwarder/internal/ports"
)

var errPlatformNotConfigured = fmt.Errorf("%s is not configured", config.PlatformBaseURLKey)

type app struct {
	store      *config.Store
	logger     *zap.Logger
	pool       *application.CredentialPool
	auth       *application.Authenticator
	dispatcher *dispatch.Dispatcher
	render     func(statusadapter.Snapshot, statusadapter.RenderOptions) (string, error)
	now        func() time.Time
	opened     bool
}

func wireApp(opts rootOptions, inbox io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, opts.verbose)
	if err != nil {
		return nil, fmt.Errorf("wire logger: %w", err)
	}
	store := config.NewStore(cfg)

	accounts, err := tomlrepo.NewAccountRepository(cfg.AccountsPath)
	if err != nil {
		return nil, fmt.Errorf("wire account repository: %w", err)
	}
	credentials, err := tomlrepo.NewCredentialRepository(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("wire credential repository: %w", err)
	}

	secrets, err := newSecretStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("wire secret store: %w", err)
	}

	platform, err := newPlatform(cfg, logger, inbox)
	if err != nil {
		return nil, fmt.Errorf("wire chat platform: %w", err)
	}

	clock := ports.SystemClock{}
	pool := application.NewCredentialPool(credentials, secrets, clock, logger)
	auth := application.NewAuthenticator(pool, platform, accounts, clock, logger,
		application.WithAuthSettings(authSettings(cfg)),
		application.WithSettingsSource(func() application.AuthSettings {
			return authSettings(store.Current())
		}),
	)
	dispatcher := dispatch.New(auth, pool,
		dispatch.WithLogger(logger),
		dispatch.WithAdmins(func() []string { return store.Current().Admins }),
	)

	return &app{
		store:      store,
		logger:     logger,
		pool:       pool,
		auth:       auth,
		dispatcher: dispatcher,
		render:     statusadapter.Render,
		now:        time.Now,
	}, nil
}

func authSettings(cfg config.Config) application.AuthSettings {
	return application.AuthSettings{
		MaxAttempts:   cfg.Auth.MaxAttempts,
		SessionTTL:    cfg.Auth.SessionTTL,
		SweepInterval: cfg.Auth.SweepInterval,
	}
}

func newSecretStore(cfg config.Config, logger *zap.Logger) (ports.SecretStore, error) {
	if cfg.SecretsBackend == config.SecretsBackendFile {
		return filestore.NewStore(cfg.SecretsDir), nil
	}
	store, err := chainstore.NewPassFirstWithFileFallback(cfg.SecretsDir, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// newPlatform picks the chat platform client. The loopback platform delivers
// codes to inbox.
func newPlatform(cfg config.Config, logger *zap.Logger, inbox io.Writer) (ports.ChallengePlatform, error) {
	if cfg.Platform.Mode == config.PlatformModeLoopback {
		platform, err := loopback.New(inbox,
			loopback.WithFixedCode(cfg.Platform.LoopbackCode),
			loopback.WithSecondFactor(cfg.Platform.LoopbackSecondFactor),
			loopback.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return platform, nil
	}

	if cfg.Platform.BaseURL == "" {
		return unavailablePlatform{err: errPlatformNotConfigured}, nil
	}
	client, err := httpapi.New(cfg.Platform.BaseURL, httpapi.WithRequestTimeout(cfg.Platform.Timeout))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// unavailablePlatform lets credential management work before the platform
// endpoint is configured. Logins fail with err.
type unavailablePlatform struct {
	err error
}

func (p unavailablePlatform) SendChallenge(context.Context, domain.AccountID, domain.Credential) error {
	return p.err
}

func (p unavailablePlatform) VerifyChallenge(context.Context, domain.AccountID, string) (ports.ChallengeResult, error) {
	return ports.ChallengeResult{}, p.err
}

func (p unavailablePlatform) VerifySecondFactor(context.Context, domain.AccountID, string) error {
	return p.err
}

// open loads persisted state for one-shot commands. serve leaves loading to
// the supervisor.
func (a *app) open(ctx context.Context) error {
	if a.opened {
		return nil
	}
	if err := a.pool.Load(ctx); err != nil {
		return err
	}
	if err := a.auth.Load(ctx); err != nil {
		return err
	}
	a.opened = true
	return nil
}

// close abandons any handshake left open by the command.
func (a *app) close(ctx context.Context) error {
	err := a.auth.Stop(ctx)
	_ = a.logger.Sync()
	if err != nil {
		return fmt.Errorf("close forwarder state: %w", err)
	}
	return nil
}
