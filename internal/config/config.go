package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken         string
	DiscordApplicationID string

	// Storage
	StorageBackend string
	DatabasePath   string
	DataDir        string

	// HTTP API; empty disables it
	HTTPAddr string

	// Logging
	LogLevel string

	// Tunables, see Tunables
	Tunables
}

// Tunables are the scheduling and rendering knobs. They can be set from the
// YAML file named by CONFIG_FILE; durations are given in seconds, CacheRate
// in minutes.
type Tunables struct {
	SourceDelay   int      `yaml:"sourceDelay"`
	SourceRate    int      `yaml:"sourceRate"`
	DiscordDelay  int      `yaml:"discordDelay"`
	DiscordRate   int      `yaml:"discordRate"`
	TopicRate     int      `yaml:"topicRate"`
	UseServerName bool     `yaml:"useServerName"`
	LineLength    int      `yaml:"lineLength"`
	CacheRate     int      `yaml:"cacheRate"`
	AdminTags     []string `yaml:"adminTags"`
	QueryAttempts int      `yaml:"queryAttempts"`
	QueryTimeout  int      `yaml:"queryTimeout"`
	PlayerFanout  string   `yaml:"playerFanout"`
}

// DefaultTunables returns the values used for anything the file leaves out.
func DefaultTunables() Tunables {
	return Tunables{
		SourceDelay:   5,
		SourceRate:    30,
		DiscordDelay:  10,
		DiscordRate:   60,
		TopicRate:     300,
		LineLength:    50,
		CacheRate:     10,
		AdminTags:     []string{"=(eG)"},
		QueryAttempts: 3,
		QueryTimeout:  5,
		PlayerFanout:  "each",
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (t Tunables) SourceDelayDuration() time.Duration  { return seconds(t.SourceDelay) }
func (t Tunables) SourceRateDuration() time.Duration   { return seconds(t.SourceRate) }
func (t Tunables) DiscordDelayDuration() time.Duration { return seconds(t.DiscordDelay) }
func (t Tunables) DiscordRateDuration() time.Duration  { return seconds(t.DiscordRate) }
func (t Tunables) TopicRateDuration() time.Duration    { return seconds(t.TopicRate) }
func (t Tunables) QueryTimeoutDuration() time.Duration { return seconds(t.QueryTimeout) }
func (t Tunables) CacheRateDuration() time.Duration    { return time.Duration(t.CacheRate) * time.Minute }

// Validate reports the first tunable that is out of range.
func (t Tunables) Validate() error {
	switch {
	case t.SourceDelay < 0 || t.DiscordDelay < 0:
		return errors.New("sourceDelay and discordDelay must not be negative")
	case t.SourceRate <= 0:
		return errors.New("sourceRate must be positive")
	case t.DiscordRate <= 0:
		return errors.New("discordRate must be positive")
	case t.TopicRate <= 0:
		return errors.New("topicRate must be positive")
	case t.LineLength <= 0:
		return errors.New("lineLength must be positive")
	case t.CacheRate <= 0:
		return errors.New("cacheRate must be positive")
	case t.QueryAttempts <= 0:
		return errors.New("queryAttempts must be positive")
	case t.QueryTimeout <= 0:
		return errors.New("queryTimeout must be positive")
	}
	switch t.PlayerFanout {
	case "each", "legacy":
	default:
		return fmt.Errorf("playerFanout must be each or legacy, got %q", t.PlayerFanout)
	}
	return nil
}

// Load reads configuration from environment variables and the optional
// tunables file. The Discord token is only checked by RequireDiscord so that
// commands which never connect can run without it.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:         os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
		StorageBackend:       strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", "sqlite")),
		DatabasePath:         getEnvOrDefault("DATABASE_PATH", "./data/bot.db"),
		DataDir:              getEnvOrDefault("DATA_DIR", "./data"),
		HTTPAddr:             getEnvOrDefault("HTTP_ADDR", ":9090"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		Tunables:             DefaultTunables(),
	}
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.Tunables.loadFile(path); err != nil {
			return nil, err
		}
	}

	switch cfg.StorageBackend {
	case "sqlite", "files":
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND %q: want sqlite or files", cfg.StorageBackend)
	}
	if err := cfg.Tunables.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tunables: %w", err)
	}

	return cfg, nil
}

// RequireDiscord validates the fields needed to connect to Discord.
func (c *Config) RequireDiscord() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	return nil
}

// StoragePath is the database file or data directory of the backend.
func (c *Config) StoragePath() string {
	if c.StorageBackend == "files" {
		return c.DataDir
	}
	return c.DatabasePath
}

func (t *Tunables) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	// fields missing from the file keep their defaults
	if err := yaml.Unmarshal(data, t); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
