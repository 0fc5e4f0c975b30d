package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	HTTPPort     string        `mapstructure:"http_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // sqlite | mysql | postgres
	DSN             string `mapstructure:"dsn"`
	ConnectAttempts uint   `mapstructure:"connect_attempts"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
	File   string `mapstructure:"file"`
}

// AdminConfig: учётные данные оператора.
// Если задан PasswordHash: режим логин/пароль, иначе статический токен.
type AdminConfig struct {
	Username       string `mapstructure:"username"`
	PasswordHash   string `mapstructure:"password_hash"`
	Token          string `mapstructure:"token"`
	CookieName     string `mapstructure:"cookie_name"`
	CookieSecure   bool   `mapstructure:"cookie_secure"`
	CredentialFile string `mapstructure:"credential_file"`
}

type AgentConfig struct {
	// Пусто: /token/current доступен всем.
	TokenDiscoveryCIDRs []string `mapstructure:"token_discovery_cidrs"`
}

type MetricsConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.http_port", "9000")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "wiretide.db")
	v.SetDefault("database.connect_attempts", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.token", "wiretide-admin-dev")
	v.SetDefault("admin.cookie_name", "wiretide_admin")
	v.SetDefault("admin.cookie_secure", false)
	v.SetDefault("admin.credential_file", "")

	v.SetDefault("agent.token_discovery_cidrs", []string{})
	v.SetDefault("metrics.path", "/metrics")
}

// Load собирает конфиг: defaults → файл → env (WIRETIDE_*) → флаги,
// затем поверх: файл учётных данных администратора, если он есть.
func Load(args []string) (*Config, error) {
	fset := pflag.NewFlagSet("wiretide", pflag.ContinueOnError)
	cfgFile := fset.String("config", "", "path to config file (yaml/toml/json)")
	fset.String("listen", "", "listen address")
	fset.String("port", "", "http port")
	fset.String("db-driver", "", "database driver: sqlite|mysql|postgres")
	fset.String("db-dsn", "", "database DSN")
	fset.String("log-level", "", "log level")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if *cfgFile != "" {
		v.SetConfigFile(*cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", *cfgFile, err)
		}
	}

	v.SetEnvPrefix("WIRETIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// WIRETIDE_ADMIN_TOKEN="" включает режим без токена
	v.AllowEmptyEnv(true)

	for key, flag := range map[string]string{
		"server.address":   "listen",
		"server.http_port": "port",
		"database.driver":  "db-driver",
		"database.dsn":     "db-dsn",
		"logging.level":    "log-level",
	} {
		// только явно заданные флаги перекрывают env/файл
		if f := fset.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	if err := mergeCredentialFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeCredentialFile подмешивает файл, сохранённый после смены пароля.
// Значения из него перекрывают env и флаги. Отсутствие файла: не ошибка.
func mergeCredentialFile(v *viper.Viper) error {
	path := v.GetString("admin.credential_file")
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open credential file: %w", err)
	}
	defer f.Close()

	cred := viper.New()
	cred.SetConfigType("yaml")
	if err := cred.ReadConfig(f); err != nil {
		return fmt.Errorf("read credential file %s: %w", path, err)
	}
	for _, key := range []string{"admin.username", "admin.password_hash"} {
		if cred.IsSet(key) {
			v.Set(key, cred.GetString(key))
		}
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "sqlite3", "mysql", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Server.HTTPPort == "" {
		return errors.New("server.http_port is required")
	}
	if c.Admin.CookieName == "" {
		return errors.New("admin.cookie_name is required")
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}
	return nil
}

// PasswordMode: true, если администратор входит по логину/паролю.
func (a AdminConfig) PasswordMode() bool { return a.PasswordHash != "" }

func (c *Config) PasswordMode() bool { return c.Admin.PasswordMode() }
