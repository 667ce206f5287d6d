package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// Config is the gateway process configuration.
type Config struct {
	Gateway  GatewayConfig `mapstructure:"gateway"`
	Agent    AgentConfig   `mapstructure:"agent"`
	Tools    ToolsConfig   `mapstructure:"tools"`
	Catalog  CatalogConfig `mapstructure:"catalog"`
	Log      LogConfig     `mapstructure:"log"`
	StateDir string        `mapstructure:"state_dir"`
}

// GatewayConfig is the WebSocket listener configuration.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// AgentConfig tunes the agent turn loop.
type AgentConfig struct {
	Model            string `mapstructure:"model"`
	SystemPromptFile string `mapstructure:"system_prompt_file"`

	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBaseWait time.Duration `mapstructure:"retry_base_wait"`
	RetryMaxWait  time.Duration `mapstructure:"retry_max_wait"`

	CompactionThreshold float64 `mapstructure:"compaction_threshold"`
	KeepRecentTokens    int     `mapstructure:"keep_recent_tokens"`
}

// ToolsConfig tunes the built-in tools.
type ToolsConfig struct {
	BashTimeout time.Duration `mapstructure:"bash_timeout"`
}

// CatalogConfig locates the model catalog override file. An empty path means
// <state_dir>/models.yaml; Watch reloads the catalog when that file changes.
type CatalogConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// Load reads the layered configuration. Precedence, low to high: defaults,
// global ~/.tether/config.yaml, project-local ./config.yaml, environment
// variables prefixed TETHER_ (dots become underscores, e.g.
// TETHER_GATEWAY_PORT).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".tether")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	localPath := filepath.Join(".", "config.yaml")
	if _, err := os.Stat(localPath); err == nil {
		local := viper.New()
		local.SetConfigFile(localPath)
		if err := local.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read local config: %w", err)
		}
		if err := v.MergeConfigMap(local.AllSettings()); err != nil {
			return nil, fmt.Errorf("failed to merge local config: %w", err)
		}
	}

	v.SetEnvPrefix("TETHER")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.StateDir == "" {
		cfg.StateDir = globalDir
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = filepath.Join(cfg.StateDir, "models.yaml")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "localhost")
	v.SetDefault("gateway.port", 8765)
	v.SetDefault("gateway.mode", "local")

	v.SetDefault("agent.model", "anthropic/claude-sonnet-4")
	v.SetDefault("agent.system_prompt_file", "")
	v.SetDefault("agent.max_retries", 3)
	v.SetDefault("agent.retry_base_wait", "1s")
	v.SetDefault("agent.retry_max_wait", "30s")
	v.SetDefault("agent.compaction_threshold", 0.8)
	v.SetDefault("agent.keep_recent_tokens", 20000)

	v.SetDefault("tools.bash_timeout", "120s")

	v.SetDefault("catalog.path", "")
	v.SetDefault("catalog.watch", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("state_dir", "")
}
