package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Coordinator holds the configuration for the matchmakerd process: the
// client-facing gateway, the match-success event processor and the
// stale-pointer janitor.
type Coordinator struct {
	GatewayPort int    `mapstructure:"GATEWAY_PORT"`
	MetricsPort int    `mapstructure:"METRICS_PORT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	RedisAddress   string `mapstructure:"REDIS_ADDRESS"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	PointerHashKey string `mapstructure:"POINTER_HASH_KEY"`
	ProfilePrefix  string `mapstructure:"PROFILE_PREFIX"`

	PubsubProjectID string `mapstructure:"PUBSUB_PROJECT_ID"`
	Subscription    string `mapstructure:"MATCH_EVENT_SUBSCRIPTION"`
	CredentialsFile string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`

	ProviderURL     string        `mapstructure:"PROVIDER_URL"`
	ProviderTimeout time.Duration `mapstructure:"PROVIDER_TIMEOUT"`
	// Matchmaking configuration name per deployment stage (dev/prod/live).
	ConfigurationNames map[string]string `mapstructure:"CONFIGURATION_NAMES"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_MATCH_FEED_TOPIC"`

	JanitorInterval time.Duration `mapstructure:"JANITOR_INTERVAL"`
	PointerTTL      time.Duration `mapstructure:"POINTER_TTL"`
}

// Session holds the configuration for the sessiond game-session process.
type Session struct {
	PortMin        int           `mapstructure:"PORT_MIN"`
	PortMax        int           `mapstructure:"PORT_MAX"`
	SessionTimeout time.Duration `mapstructure:"SESSION_TIMEOUT"`
	TickInterval   time.Duration `mapstructure:"TICK_INTERVAL"`
	HealthInterval time.Duration `mapstructure:"HEALTH_INTERVAL"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
}

func newViper(name, path string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("env")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AutomaticEnv()
	return v
}

// LoadCoordinator reads matchmakerd configuration from an optional
// matchmakerd.env file and the environment. Missing values fall back to
// defaults; a missing config file is not an error.
func LoadCoordinator(path string) (*Coordinator, error) {
	v := newViper("matchmakerd", path)

	v.SetDefault("GATEWAY_PORT", 7350)
	v.SetDefault("METRICS_PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDRESS", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("POINTER_HASH_KEY", "matching:pointers")
	v.SetDefault("PROFILE_PREFIX", "user:profile:")
	v.SetDefault("PROVIDER_TIMEOUT", 10*time.Second)
	v.SetDefault("CONFIGURATION_NAMES", map[string]string{"dev": "standard-match"})
	v.SetDefault("JANITOR_INTERVAL", 5*time.Minute)
	v.SetDefault("POINTER_TTL", time.Hour)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Debug().Str("name", "matchmakerd").Msg("no config file found, using environment and defaults")
	}

	cfg := &Coordinator{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.Subscription == "" {
		log.Warn().Msg("Pub/Sub subscription not set; set MATCH_EVENT_SUBSCRIPTION")
	}
	if cfg.ProviderURL == "" {
		log.Warn().Msg("matchmaking provider URL not set; set PROVIDER_URL")
	}
	return cfg, nil
}

// LoadSession reads sessiond configuration from an optional sessiond.env
// file and the environment.
func LoadSession(path string) (*Session, error) {
	v := newViper("sessiond", path)

	v.SetDefault("PORT_MIN", 7000)
	v.SetDefault("PORT_MAX", 60000)
	v.SetDefault("SESSION_TIMEOUT", 600*time.Second)
	v.SetDefault("TICK_INTERVAL", time.Second)
	v.SetDefault("HEALTH_INTERVAL", 10*time.Second)
	v.SetDefault("LOG_LEVEL", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Session{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GatewayAddr returns the listen address for the client-facing gateway.
func (c *Coordinator) GatewayAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.GatewayPort))
}

// HTTPAddr returns the listen address for the metrics/health server.
func (c *Coordinator) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.MetricsPort))
}

// Redacted returns a view safe for logging
func (c *Coordinator) Redacted() map[string]any {
	return map[string]any{
		"gatewayPort":         c.GatewayPort,
		"metricsPort":         c.MetricsPort,
		"logLevel":            c.LogLevel,
		"redisAddress":        c.RedisAddress,
		"passwordProvided":    c.RedisPassword != "",
		"pointerHashKey":      c.PointerHashKey,
		"projectID":           c.PubsubProjectID,
		"subscription":        c.Subscription,
		"credentialsProvided": c.CredentialsFile != "",
		"providerURL":         c.ProviderURL,
		"stages":              strings.Join(stageNames(c.ConfigurationNames), ","),
		"kafkaBrokers":        strings.Join(c.KafkaBrokers, ","),
		"kafkaTopic":          c.KafkaTopic,
		"janitorInterval":     c.JanitorInterval.String(),
		"pointerTTL":          c.PointerTTL.String(),
	}
}

func stageNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for stage := range m {
		names = append(names, stage)
	}
	return names
}
