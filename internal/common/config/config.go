package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	// DataFile is the single JSON document holding all account buckets.
	DataFile string `env:"DATA_FILE" envDefault:"data/pangguai/pangguai_data.json"`

	Server struct {
		Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
		Port int    `env:"HTTP_PORT" envDefault:"8071"`
	}

	OneBot struct {
		WebsocketURL string `env:"ONEBOT_WS_URL" envDefault:"ws://127.0.0.1:13001"`
		AccessToken  string `env:"ONEBOT_ACCESS_TOKEN" envDefault:""`
		AdminIDs     []int64 `env:"ADMIN_IDS" envSeparator:","`
	}

	PangGuai struct {
		BaseURL    string `env:"PANGGUAI_BASE_URL" envDefault:"https://userapi.qiekj.com"`
		PhoneBrand string `env:"PANGGUAI_PHONE_BRAND" envDefault:"onebot"`
	}

	Qinglong struct {
		Host         string `env:"QINGLONG_HOST,required"`
		ClientID     string `env:"QINGLONG_CLIENT_ID,required"`
		ClientSecret string `env:"QINGLONG_CLIENT_SECRET,required"`
		// EnvName is the panel variable name holding the vendor token.
		EnvName string `env:"PANGGUAI_OSNAME" envDefault:"pangguai"`
	}

	Sweep struct {
		// Cron spec with minute precision, default 8:18/12:18/16:18 daily.
		Spec string `env:"SWEEP_CRON" envDefault:"18 8,12,16 * * *"`
	}
}

func Load() (*Config, error) {
	// .env is optional; in production the variables are set directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
