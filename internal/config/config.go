package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	configDir  = ".forwarder"
	envPrefix  = "FWD"

	DataDirKey              = "data.dir"
	AccountsPathKey         = "accounts.path"
	CredentialsPathKey      = "credentials.path"
	SecretsDirKey           = "secrets.dir"
	SecretsBackendKey       = "secrets.backend"
	AuthMaxAttemptsKey      = "auth.max_attempts"
	AuthSessionTTLKey       = "auth.session_ttl"
	AuthSweepIntervalKey    = "auth.sweep_interval"
	SupervisorStopGraceKey  = "supervisor.stop_grace"
	SupervisorStatusKey     = "supervisor.status_interval"
	PlatformModeKey         = "platform.mode"
	PlatformBaseURLKey      = "platform.base_url"
	PlatformTimeoutKey      = "platform.timeout"
	LoopbackCodeKey         = "platform.loopback.code"
	LoopbackSecondFactorKey = "platform.loopback.second_factor"
	DispatchAdminsKey       = "dispatch.admins"
	LogLevelKey             = "log.level"
	ConfigWatchKey          = "config.watch"
)

const (
	SecretsBackendChain = "chain"
	SecretsBackendFile  = "file"

	PlatformModeHTTP     = "http"
	PlatformModeLoopback = "loopback"
)

type Config struct {
	File            string
	DataDir         string
	AccountsPath    string
	CredentialsPath string
	SecretsDir      string
	SecretsBackend  string
	Auth            AuthConfig
	Supervisor      SupervisorConfig
	Platform        PlatformConfig
	Admins          []string
	LogLevel        string
	Watch           bool
}

type AuthConfig struct {
	MaxAttempts   int
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

type SupervisorConfig struct {
	StopGrace      time.Duration
	StatusInterval time.Duration
}

type PlatformConfig struct {
	Mode                 string
	BaseURL              string
	Timeout              time.Duration
	LoopbackCode         string
	LoopbackSecondFactor string
}

// DefaultPath is ~/.forwarder/config.toml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, configDir, configName+"."+configType), nil
}

// Load reads the config file at path (the default location when empty) with
// FWD_ environment overrides. A missing file yields the defaults.
func Load(path string) (Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, filepath.Join(homeDir, configDir))

	if path == "" {
		path = filepath.Join(homeDir, configDir, configName+"."+configType)
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		File:           path,
		DataDir:        v.GetString(DataDirKey),
		SecretsBackend: strings.ToLower(strings.TrimSpace(v.GetString(SecretsBackendKey))),
		Auth: AuthConfig{
			MaxAttempts:   v.GetInt(AuthMaxAttemptsKey),
			SessionTTL:    v.GetDuration(AuthSessionTTLKey),
			SweepInterval: v.GetDuration(AuthSweepIntervalKey),
		},
		Supervisor: SupervisorConfig{
			StopGrace:      v.GetDuration(SupervisorStopGraceKey),
			StatusInterval: v.GetDuration(SupervisorStatusKey),
		},
		Platform: PlatformConfig{
			Mode:                 strings.ToLower(strings.TrimSpace(v.GetString(PlatformModeKey))),
			BaseURL:              strings.TrimSpace(v.GetString(PlatformBaseURLKey)),
			Timeout:              v.GetDuration(PlatformTimeoutKey),
			LoopbackCode:         v.GetString(LoopbackCodeKey),
			LoopbackSecondFactor: v.GetString(LoopbackSecondFactorKey),
		},
		Admins:   splitList(v.GetStringSlice(DispatchAdminsKey)),
		LogLevel: v.GetString(LogLevelKey),
		Watch:    v.GetBool(ConfigWatchKey),
	}

	cfg.AccountsPath = pathOrDefault(v.GetString(AccountsPathKey), cfg.DataDir, "accounts.toml")
	cfg.CredentialsPath = pathOrDefault(v.GetString(CredentialsPathKey), cfg.DataDir, "credentials.toml")
	cfg.SecretsDir = pathOrDefault(v.GetString(SecretsDirKey), cfg.DataDir, "secrets")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault(DataDirKey, dataDir)
	v.SetDefault(AccountsPathKey, "")
	v.SetDefault(CredentialsPathKey, "")
	v.SetDefault(SecretsDirKey, "")
	v.SetDefault(SecretsBackendKey, SecretsBackendChain)
	v.SetDefault(AuthMaxAttemptsKey, 5)
	v.SetDefault(AuthSessionTTLKey, 5*time.Minute)
	v.SetDefault(AuthSweepIntervalKey, 30*time.Second)
	v.SetDefault(SupervisorStopGraceKey, 10*time.Second)
	v.SetDefault(SupervisorStatusKey, time.Minute)
	v.SetDefault(PlatformModeKey, PlatformModeHTTP)
	v.SetDefault(PlatformBaseURLKey, "")
	v.SetDefault(PlatformTimeoutKey, 30*time.Second)
	v.SetDefault(LoopbackCodeKey, "")
	v.SetDefault(LoopbackSecondFactorKey, "")
	v.SetDefault(DispatchAdminsKey, []string{})
	v.SetDefault(LogLevelKey, "warn")
	v.SetDefault(ConfigWatchKey, true)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data directory is empty")
	}
	switch c.SecretsBackend {
	case SecretsBackendChain, SecretsBackendFile:
	default:
		return fmt.Errorf("unsupported secrets backend %q", c.SecretsBackend)
	}
	switch c.Platform.Mode {
	case PlatformModeHTTP, PlatformModeLoopback:
	default:
		return fmt.Errorf("unsupported platform mode %q", c.Platform.Mode)
	}
	if c.Auth.MaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", AuthMaxAttemptsKey)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("%s must be positive", AuthSessionTTLKey)
	}
	return nil
}

func pathOrDefault(value string, dataDir string, name string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		value = filepath.Join(dataDir, name)
	}
	if abs, err := filepath.Abs(value); err == nil {
		value = abs
	}
	return filepath.Clean(value)
}

// splitList accepts both TOML arrays and comma separated env values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
