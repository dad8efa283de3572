package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// DefaultPath: файл настроек, если APP_CONFIG не задан.
const DefaultPath = "config/example.yaml"

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	Telegram struct {
		Token       string
		AdminChatID int64 `mapstructure:"admin_chat_id"`
	} `mapstructure:"telegram"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Redis struct {
		Addr     string
		Password string
		DB       int
	} `mapstructure:"redis"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Sync struct {
		Interval  time.Duration
		Retention time.Duration
		LockTTL   time.Duration `mapstructure:"lock_ttl"`
	} `mapstructure:"sync"`

	Store struct {
		Driver string // postgres | memory
	} `mapstructure:"store"`
}

// Path возвращает путь к файлу настроек с учётом APP_CONFIG.
func Path() string {
	if p := os.Getenv("APP_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load читает .env (если есть), затем YAML. Любой ключ можно переопределить через ENV: APP_POSTGRES_DSN и т.п.
func Load(path string) (Config, error) {
	_ = gotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.env", "prod")
	v.SetDefault("app.timezone", "Europe/Moscow")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("sync.interval", 0)
	v.SetDefault("sync.retention", 30*24*time.Hour)
	v.SetDefault("sync.lock_ttl", 10*time.Minute)
	v.SetDefault("store.driver", "postgres")

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}

// Location: часовой пояс для отображения времени. При ошибке UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
