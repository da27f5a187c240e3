package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Line     LineConfig     `mapstructure:"line"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Menu     MenuConfig     `mapstructure:"menu"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	UseInMemory     bool          `mapstructure:"use_in_memory"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LineConfig struct {
	ChannelAccessToken string `mapstructure:"channel_access_token"`
	ChannelSecret      string `mapstructure:"channel_secret"`
	APIBase            string `mapstructure:"api_base"`
}

type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	APIBase     string        `mapstructure:"api_base"`
	Model       string        `mapstructure:"model"`
	HTTPReferer string        `mapstructure:"http_referer"`
	XTitle      string        `mapstructure:"x_title"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CheckOutput bool          `mapstructure:"check_output"`
}

type MenuConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

// envKeys maps config keys to the environment variables that override them.
var envKeys = map[string]string{
	"server.host":                "HOST",
	"server.port":                "PORT",
	"database.url":               "DATABASE_URL",
	"database.use_in_memory":     "DATABASE_USE_IN_MEMORY",
	"line.channel_access_token":  "LINE_CHANNEL_ACCESS_TOKEN",
	"line.channel_secret":        "LINE_CHANNEL_SECRET",
	"line.api_base":              "LINE_API_BASE",
	"llm.api_key":                "LLM_API_KEY",
	"llm.api_base":               "LLM_API_BASE",
	"llm.model":                  "LLM_MODEL",
	"llm.http_referer":           "LLM_HTTP_REFERER",
	"llm.x_title":                "LLM_X_TITLE",
	"llm.max_tokens":             "LLM_MAX_TOKENS",
	"llm.timeout":                "LLM_TIMEOUT",
	"llm.check_output":           "LLM_CHECK_OUTPUT",
	"menu.path":                  "MENU_PATH",
	"redis.url":                  "REDIS_URL",
	"log.development":            "LOG_DEVELOPMENT",
	"database.max_open_conns":    "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DATABASE_CONN_MAX_LIFETIME",
}

// LoadConfig reads defaults, then the optional file at path, then a .env file
// and the process environment, later sources winning.
func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("line.api_base", "https://api.line.me")
	v.SetDefault("llm.api_base", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.model", "deepseek/deepseek-r1-0528:free")
	v.SetDefault("llm.x_title", "Investment Q&A Bot")
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.check_output", false)
	v.SetDefault("menu.path", "content/questions.yaml")
	v.SetDefault("log.development", false)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	config.trim()
	return &config, nil
}

func (c *Config) trim() {
	c.Database.URL = strings.TrimSpace(c.Database.URL)
	c.Line.ChannelAccessToken = strings.TrimSpace(c.Line.ChannelAccessToken)
	c.Line.ChannelSecret = strings.TrimSpace(c.Line.ChannelSecret)
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.Redis.URL = strings.TrimSpace(c.Redis.URL)
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var errs error
	if c.Line.ChannelSecret == "" {
		errs = multierr.Append(errs, errors.New("LINE_CHANNEL_SECRET is required"))
	}
	if c.Line.ChannelAccessToken == "" {
		errs = multierr.Append(errs, errors.New("LINE_CHANNEL_ACCESS_TOKEN is required"))
	}
	if c.LLM.APIKey == "" {
		errs = multierr.Append(errs, errors.New("LLM_API_KEY is required"))
	}
	if !c.Database.UseInMemory && c.Database.URL == "" {
		errs = multierr.Append(errs, errors.New("DATABASE_URL is required unless DATABASE_USE_IN_MEMORY is set"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("invalid PORT %d", c.Server.Port))
	}
	return errs
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
