package config

import (
	"fmt"
	"github.com/ilyakaznacheev/cleanenv"
	"log"
	"sync"
	"time"
)

type Config struct {
	Env  string `yaml:"env" env:"SHOPCHAT_ENV" env-default:"local"`
	Role string `yaml:"role" env:"SHOPCHAT_ROLE" env-default:"customer"`
	Api  struct {
		BaseURL         string        `yaml:"base_url" env:"SHOPCHAT_API_URL" env-default:"http://127.0.0.1:8000/api"`
		Timeout         time.Duration `yaml:"timeout" env-default:"15s"`
		RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed" env-default:"10s"`
	} `yaml:"api"`
	Ws struct {
		BaseURL              string        `yaml:"base_url" env:"SHOPCHAT_WS_URL" env-default:"ws://127.0.0.1:8000"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" env-default:"5"`
		ReconnectDelay       time.Duration `yaml:"reconnect_delay" env-default:"3s"`
		ReadyTimeout         time.Duration `yaml:"ready_timeout" env-default:"800ms"`
		PingPeriod           time.Duration `yaml:"ping_period" env-default:"30s"`
	} `yaml:"ws"`
	Badge struct {
		GracePeriod  time.Duration `yaml:"grace_period" env-default:"5s"`
		PollInterval time.Duration `yaml:"poll_interval" env-default:"30s"`
	} `yaml:"badge"`
	Auth struct {
		Token string `yaml:"token" env:"SHOPCHAT_TOKEN" env-default:""`
	} `yaml:"auth"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Host     string `yaml:"host" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:"admin"`
		Password string `yaml:"password" env-default:"pass"`
		Database string `yaml:"database" env-default:"shopchat"`
	} `yaml:"mongo"`
	Listen struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		BindIP  string `yaml:"bind_ip" env-default:"127.0.0.1"`
		Port    string `yaml:"port" env-default:"9100"`
		ApiKey  string `yaml:"key" env:"SHOPCHAT_LISTEN_KEY" env-default:""`
	} `yaml:"listen"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("%s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}

// Load reads path without the process-wide cache. A missing file falls back
// to defaults and environment overrides.
func Load(path string) (*Config, error) {
	conf := &Config{}
	if path != "" {
		if err := cleanenv.ReadConfig(path, conf); err == nil {
			return conf, nil
		}
	}
	if err := cleanenv.ReadEnv(conf); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return conf, nil
}
