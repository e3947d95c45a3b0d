package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"impulse-server/game"
)

// Config is the decoded server configuration
type Config struct {
	Addr      string        `mapstructure:"addr"`
	ClientDir string        `mapstructure:"clientDir"`
	LogLevel  string        `mapstructure:"logLevel"`
	DB        DBConfig      `mapstructure:"db"`
	Game      GameConfig    `mapstructure:"game"`
	Auth      AuthConfig    `mapstructure:"auth"`
	Limits    LimitsConfig  `mapstructure:"limits"`
	Graylog   GraylogConfig `mapstructure:"graylog"`
	Match     MatchConfig   `mapstructure:"match"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

// GameConfig holds the simulation constants every new match starts with
type GameConfig struct {
	StepRate       int     `mapstructure:"stepRate"`       // steps per second
	BroadcastEvery int     `mapstructure:"broadcastEvery"` // steps between state frames
	FieldSize      float64 `mapstructure:"fieldSize"`
	Friction       float64 `mapstructure:"friction"`
	Radius         float64 `mapstructure:"radius"`
	Thrust         float64 `mapstructure:"thrust"`
}

type AuthConfig struct {
	TokenTTL   time.Duration `mapstructure:"tokenTTL"`
	BcryptCost int           `mapstructure:"bcryptCost"`
}

type LimitsConfig struct {
	MaxMatches     int `mapstructure:"maxMatches"`
	MaxConnsPerIP  int `mapstructure:"maxConnsPerIP"`
	MaxConns       int `mapstructure:"maxConns"`
	MessagesPerSec int `mapstructure:"messagesPerSec"`
}

type GraylogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type MatchConfig struct {
	IdleTimeout time.Duration `mapstructure:"idleTimeout"`
}

func setDefaults() {
	viper.SetDefault("addr", ":8080")
	viper.SetDefault("clientDir", "../client")
	viper.SetDefault("logLevel", "info")

	viper.SetDefault("db.path", "impulse.db")

	viper.SetDefault("game.stepRate", 50)
	viper.SetDefault("game.broadcastEvery", 2)
	viper.SetDefault("game.fieldSize", 500.0)
	viper.SetDefault("game.friction", game.DefaultFriction)
	viper.SetDefault("game.radius", game.DefaultRadius)
	viper.SetDefault("game.thrust", game.DefaultThrust)

	viper.SetDefault("auth.tokenTTL", "168h")
	viper.SetDefault("auth.bcryptCost", 12)

	viper.SetDefault("limits.maxMatches", 100)
	viper.SetDefault("limits.maxConnsPerIP", 5)
	viper.SetDefault("limits.maxConns", 1000)
	viper.SetDefault("limits.messagesPerSec", 50)

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("match.idleTimeout", "5m")
}

// newFlagSet declares the command-line flags LoadConfig binds
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a JSON, YAML or TOML config file")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("client", "../client", "path to the static client directory")
	fs.String("log-level", "info", "trace, debug, info, warn or error")
	fs.String("db", "impulse.db", "SQLite database path")
	return fs
}

var flagKeys = map[string]string{
	"addr":      "addr",
	"client":    "clientDir",
	"log-level": "logLevel",
	"db":        "db.path",
}

// LoadConfig layers defaults, the optional config file, IMPULSE_* environment
// variables and explicitly set flags, in increasing precedence.
func LoadConfig(flags *pflag.FlagSet) (Config, error) {
	setDefaults()

	viper.SetEnvPrefix("IMPULSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	configFile := ""
	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := viper.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("binding flag %s: %w", flag, err)
				}
			}
		}
		configFile, _ = flags.GetString("config")
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with
func (c Config) Validate() error {
	if c.Game.StepRate <= 0 {
		return fmt.Errorf("game.stepRate must be positive, got %d", c.Game.StepRate)
	}
	if c.Game.BroadcastEvery <= 0 {
		return fmt.Errorf("game.broadcastEvery must be positive, got %d", c.Game.BroadcastEvery)
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("game: %w", err)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.tokenTTL must be positive")
	}
	if c.Limits.MaxMatches <= 0 || c.Limits.MaxConns <= 0 || c.Limits.MaxConnsPerIP <= 0 || c.Limits.MessagesPerSec <= 0 {
		return errors.New("limits must be positive")
	}
	return nil
}

// EngineConfig builds the engine configuration for a new match
func (c Config) EngineConfig() game.Config {
	cfg := game.DefaultConfig()
	cfg.FieldSize = c.Game.FieldSize
	cfg.Friction = c.Game.Friction
	cfg.Radius = c.Game.Radius
	cfg.Thrust = c.Game.Thrust
	return cfg
}

// StepInterval is the wall-clock time between engine steps
func (c GameConfig) StepInterval() time.Duration {
	return time.Second / time.Duration(c.StepRate)
}
