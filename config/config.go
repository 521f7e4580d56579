package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yml"

var (
	ErrMissingToken    = errors.New("telegram.token (BOT_TOKEN) is required")
	ErrMissingOperator = errors.New("telegram.operator_id (OPERATOR_ID) is required")
	ErrMissingWebApp   = errors.New("telegram.webapp_url (WEBAPP_URL) is required")
)

type Config struct {
	Telegram struct {
		Token       string        `yaml:"token"`
		OperatorID  int64         `yaml:"operator_id"`
		WebAppURL   string        `yaml:"webapp_url"`
		ChannelID   string        `yaml:"channel_id"`
		PollTimeout time.Duration `yaml:"poll_timeout"`
		SendTimeout time.Duration `yaml:"send_timeout"`
		Debug       bool          `yaml:"debug"`
	} `yaml:"telegram"`
	Dispatch struct {
		Ack           bool `yaml:"ack"`
		MaxConcurrent int  `yaml:"max_concurrent"`
	} `yaml:"dispatch"`
	Dedup struct {
		StartTTL time.Duration `yaml:"start_ttl"`
	} `yaml:"dedup"`
	Admin struct {
		Addr string `yaml:"addr"`
	} `yaml:"admin"`
	Log struct {
		Level string `yaml:"level"`
		Env   string `yaml:"env"`
	} `yaml:"log"`
}

func Default() Config {
	var c Config
	c.Telegram.WebAppURL = "https://tahirovdd-lang.github.io/kadima-menu/"
	c.Telegram.PollTimeout = 60 * time.Second
	c.Telegram.SendTimeout = 10 * time.Second
	c.Dispatch.Ack = true
	c.Dispatch.MaxConcurrent = 16
	c.Dedup.StartTTL = 2 * time.Second
	c.Log.Level = "info"
	c.Log.Env = "development"
	return c
}

// Load читает YAML-файл (если он есть), применяет переменные окружения и
// проверяет обязательные поля.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// без файла работаем на переменных окружения
	default:
		return cfg, fmt.Errorf("open %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var result *multierror.Error

	if v, ok := lookup("BOT_TOKEN"); ok && v != "" {
		c.Telegram.Token = v
	}
	if v, ok := lookup("OPERATOR_ID"); ok && v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("OPERATOR_ID: %w", err))
		} else {
			c.Telegram.OperatorID = id
		}
	}
	if v, ok := lookup("WEBAPP_URL"); ok && v != "" {
		c.Telegram.WebAppURL = v
	}
	if v, ok := lookup("CHANNEL_ID"); ok && v != "" {
		c.Telegram.ChannelID = v
	}
	if v, ok := lookup("ADMIN_ADDR"); ok && v != "" {
		c.Admin.Addr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("ENV"); ok && v != "" {
		c.Log.Env = v
	}

	return result.ErrorOrNil()
}

// Validate сообщает обо всех отсутствующих обязательных полях сразу.
func (c Config) Validate() error {
	var result *multierror.Error

	if c.Telegram.Token == "" {
		result = multierror.Append(result, ErrMissingToken)
	}
	if c.Telegram.OperatorID == 0 {
		result = multierror.Append(result, ErrMissingOperator)
	}
	if c.Telegram.WebAppURL == "" {
		result = multierror.Append(result, ErrMissingWebApp)
	}
	if c.Telegram.SendTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("telegram.send_timeout must be positive, got %s", c.Telegram.SendTimeout))
	}
	if c.Telegram.PollTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("telegram.poll_timeout must be positive, got %s", c.Telegram.PollTimeout))
	}
	if c.Dispatch.MaxConcurrent <= 0 {
		result = multierror.Append(result, fmt.Errorf("dispatch.max_concurrent must be positive, got %d", c.Dispatch.MaxConcurrent))
	}

	return result.ErrorOrNil()
}
