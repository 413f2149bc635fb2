package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/screenpop/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	ConnectWise ConnectWiseConfig `yaml:"connectwise" mapstructure:"connectwise"`
	Nilear      NilearConfig      `yaml:"nilear" mapstructure:"nilear"`
	Sync        SyncConfig        `yaml:"sync" mapstructure:"sync"`
	Extensions  ExtensionsConfig  `yaml:"extensions" mapstructure:"extensions"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// MaxConns and MinConns size the Postgres pool; SQLite ignores them.
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// ConnectWiseConfig holds ConnectWise PSA API credentials.
type ConnectWiseConfig struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	CompanyID       string  `yaml:"company_id" mapstructure:"company_id"`
	PublicKey       string  `yaml:"public_key" mapstructure:"public_key"`
	PrivateKey      string  `yaml:"private_key" mapstructure:"private_key"`
	ClientID        string  `yaml:"client_id" mapstructure:"client_id"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SyncTimeoutSecs int     `yaml:"sync_timeout_secs" mapstructure:"sync_timeout_secs"`
	RateLimit       float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	// BreakerThreshold consecutive outage responses open the circuit for
	// BreakerResetSecs.
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// NilearConfig points company views at the Nilear front end.
type NilearConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// TicketURL prefixes ticket ids to build per-ticket links.
	TicketURL string `yaml:"ticket_url" mapstructure:"ticket_url"`
}

// SyncConfig configures the phone cache refresh.
type SyncConfig struct {
	IntervalHours    int `yaml:"interval_hours" mapstructure:"interval_hours"`
	PageSize         int `yaml:"page_size" mapstructure:"page_size"`
	MaxPages         int `yaml:"max_pages" mapstructure:"max_pages"`
	RetryBackoffSecs int `yaml:"retry_backoff_secs" mapstructure:"retry_backoff_secs"`
}

// Interval returns the refresh interval as a duration.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalHours) * time.Hour
}

// ExtensionsConfig holds the static internal extension directory.
type ExtensionsConfig struct {
	// Static maps a 4-digit extension to the technician who owns it.
	Static map[string]model.PersonName `yaml:"static" mapstructure:"static"`
	// Overrides maps an extension to the name ConnectWise knows the member by,
	// when it differs from the directory name.
	Overrides map[string]model.PersonName `yaml:"overrides" mapstructure:"overrides"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCREENPOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/phone_cache.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("sync.interval_hours", 4)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.max_pages", 100)
	v.SetDefault("sync.retry_backoff_secs", 300)
	v.SetDefault("connectwise.timeout_secs", 30)
	v.SetDefault("connectwise.sync_timeout_secs", 60)
	v.SetDefault("connectwise.rate_limit", 10)
	v.SetDefault("connectwise.breaker_threshold", 5)
	v.SetDefault("connectwise.breaker_reset_secs", 30)
	v.SetDefault("nilear.base_url", "https://mtx.link")
	v.SetDefault("nilear.ticket_url", "https://app.nilear.com/mtx")

	// Credentials are usually supplied as env vars only; bind them so
	// Unmarshal sees them without a config file entry.
	for _, key := range []string{
		"connectwise.base_url",
		"connectwise.company_id",
		"connectwise.public_key",
		"connectwise.private_key",
		"connectwise.client_id",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings needed to talk to ConnectWise are present.
func (c *Config) Validate() error {
	var missing []string
	if c.ConnectWise.BaseURL == "" {
		missing = append(missing, "connectwise.base_url")
	}
	if c.ConnectWise.CompanyID == "" {
		missing = append(missing, "connectwise.company_id")
	}
	if c.ConnectWise.PublicKey == "" {
		missing = append(missing, "connectwise.public_key")
	}
	if c.ConnectWise.PrivateKey == "" {
		missing = append(missing, "connectwise.private_key")
	}
	if c.ConnectWise.ClientID == "" {
		missing = append(missing, "connectwise.client_id")
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.Sync.IntervalHours <= 0 {
		return eris.Errorf("config: sync.interval_hours must be positive, got %d", c.Sync.IntervalHours)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
