package config

import (
	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort        string `mapstructure:"SERVER_PORT"`
	ScrapeWorkers     int    `mapstructure:"SCRAPE_WORKERS"`
	ScrapeTimeout     int    `mapstructure:"SCRAPE_TIMEOUT"`
	NavTimeout        int    `mapstructure:"NAV_TIMEOUT"`
	StepTimeout       int    `mapstructure:"STEP_TIMEOUT"`
	MaxWizardSteps    int    `mapstructure:"MAX_WIZARD_STEPS"`
	FreshnessHours    int    `mapstructure:"FRESHNESS_HOURS"`
	FailureTTLMinutes int    `mapstructure:"FAILURE_TTL_MINUTES"`
	CacheDriver       string `mapstructure:"CACHE_DRIVER"`
	CachePath         string `mapstructure:"CACHE_PATH"`
	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	PostgresURL       string `mapstructure:"POSTGRES_URL"`
	RobotsBypass      bool   `mapstructure:"ROBOTS_BYPASS"`
	RobotsUserAgent   string `mapstructure:"ROBOTS_USER_AGENT"`
	PoliteDelayMS     int    `mapstructure:"POLITE_DELAY_MS"`
	Headless          bool   `mapstructure:"HEADLESS"`
	ProvidersJSON     string `mapstructure:"PROVIDERS_JSON"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present
	// This allows configuration purely through environment variables in production
	_ = viper.ReadInConfig()

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SCRAPE_WORKERS", 4)
	viper.SetDefault("SCRAPE_TIMEOUT", 90) // in seconds, whole provider flow
	viper.SetDefault("NAV_TIMEOUT", 25)    // in seconds, one page navigation
	viper.SetDefault("STEP_TIMEOUT", 10)   // in seconds, one browser step
	viper.SetDefault("MAX_WIZARD_STEPS", 6)
	viper.SetDefault("FRESHNESS_HOURS", 24)     // cached outcomes younger than this are reused
	viper.SetDefault("FAILURE_TTL_MINUTES", 30) // failed outcomes trusted for this long only
	viper.SetDefault("CACHE_DRIVER", "csv")     // csv | memory | redis | postgres
	viper.SetDefault("CACHE_PATH", "outcomes.csv")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("ROBOTS_BYPASS", false)
	viper.SetDefault("ROBOTS_USER_AGENT", "bbcompare/1.0")
	viper.SetDefault("POLITE_DELAY_MS", 1000) // per-host floor when robots has no crawl-delay
	viper.SetDefault("HEADLESS", true)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
