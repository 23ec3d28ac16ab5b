// Package config loads codi's configuration from .codi.{json,yaml}, layered
// with environment variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration for a codi invocation.
type Config struct {
	Provider               string   `mapstructure:"provider"`
	Model                  string   `mapstructure:"model"`
	AutoApprove            []string `mapstructure:"auto_approve"`
	DangerousPatterns      []string `mapstructure:"dangerous_patterns"`
	SystemPromptAdditions  string   `mapstructure:"system_prompt_additions"`
	MaxIterations          int      `mapstructure:"max_iterations"`
	ContextHeadroom        float64  `mapstructure:"context_headroom"`
	Audit                  bool     `mapstructure:"audit"`

	SessionID  string `mapstructure:"-"`
	NoColor    bool   `mapstructure:"-"`
	ConfigPath string `mapstructure:"-"`
}

// Defaults returns the baseline working-set and loop bounds used when
// nothing else overrides them.
func Defaults() Config {
	return Config{
		Provider:        "anthropic",
		MaxIterations:   50,
		ContextHeadroom: 0.20,
		Audit:           false,
	}
}

// Load resolves configuration in the documented precedence: defaults <
// config file (the explicit path, else .codi.json / .codi.yaml searched
// in the working directory, then the home directory) < .env file < environment variables < explicit
// overrides applied by the caller (CLI flags).
func Load(explicitPath string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigName(".codi")
	v.SetConfigType("yaml")

	def := Defaults()
	v.SetDefault("provider", def.Provider)
	v.SetDefault("max_iterations", def.MaxIterations)
	v.SetDefault("context_headroom", def.ContextHeadroom)
	v.SetDefault("audit", def.Audit)

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && explicitPath != "" {
			return Config{}, fmt.Errorf("config: reading %s: %w", explicitPath, err)
		}
		// A missing config file at the default search path is not an
		// error: every key has a sane default.
	}

	v.SetEnvPrefix("CODI")
	v.AutomaticEnv()
	v.BindEnv("audit", "CODI_AUDIT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding: %w", err)
	}

	if cfg.Provider == "" {
		return Config{}, fmt.Errorf("config: provider must not be empty")
	}

	cfg.ConfigPath = v.ConfigFileUsed()
	cfg.NoColor = os.Getenv("NO_COLOR") != ""
	return cfg, nil
}

// SessionDir resolves $CODI_SESSION_DIR, defaulting to ~/.codi/sessions.
func SessionDir() (string, error) {
	if dir := os.Getenv("CODI_SESSION_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving home directory: %w", err)
	}
	return filepath.Join(home, ".codi", "sessions"), nil
}

// AuditDir resolves the audit log directory, ~/.codi/audit.
func AuditDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving home directory: %w", err)
	}
	return filepath.Join(home, ".codi", "audit"), nil
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil // optional
	}
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("config: loading .env: %w", err)
	}
	return nil
}

// RuntimeDir resolves the IPC endpoint directory for a commander process,
// rooted under $XDG_RUNTIME_DIR/codi/<pid>.
func RuntimeDir(commanderPID int) (string, error) {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "codi", fmt.Sprintf("%d", commanderPID)), nil
}

// IsTrue parses the loose boolean conventions codi's env vars use.
func IsTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
