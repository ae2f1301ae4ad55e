package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

const fileName = "mysql-mcp.yaml"

var ErrInvalidConfig = errors.New("invalid configuration")

type MySQLConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	User            string        `yaml:"user" validate:"required"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database" validate:"required"`
	PoolSize        int           `yaml:"pool_size" validate:"min=1"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout" validate:"gt=0"`
	QueryTimeout    time.Duration `yaml:"query_timeout" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

type ServerConfig struct {
	// MaxRows caps rows per query result; zero disables the cap.
	MaxRows          int           `yaml:"max_rows" validate:"gte=0"`
	ResourceCacheTTL time.Duration `yaml:"resource_cache_ttl" validate:"gte=0"`
	HTTPAddr         string        `yaml:"http_addr" validate:"required"`
}

type LoggingConfig struct {
	Level   string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format  string `yaml:"format" validate:"oneof=console json"`
	File    string `yaml:"file"`
	MaxSize int64  `yaml:"max_size_mb" validate:"gte=0"`
}

type Config struct {
	MySQL   MySQLConfig   `yaml:"mysql"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`

	// Source is the file the configuration was read from, if any.
	Source string `yaml:"-"`
}

func Default() *Config {
	return &Config{
		MySQL: MySQLConfig{
			Host:            "127.0.0.1",
			Port:            3306,
			User:            "root",
			Database:        "test",
			PoolSize:        10,
			AcquireTimeout:  5 * time.Second,
			QueryTimeout:    30 * time.Second,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Server: ServerConfig{
			MaxRows:  10000,
			HTTPAddr: "127.0.0.1:8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load layers defaults, the configuration file and the environment. An
// explicit path must exist; otherwise the first file found on the search
// path is used, and none at all is fine.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadConfigFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		for _, candidate := range getConfigPaths() {
			if _, err := os.Stat(candidate); err == nil {
				if err := loadConfigFromFile(candidate, cfg); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getConfigPaths() []string {
	var paths []string

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			paths = append(paths, filepath.Join(appData, "mysql-mcp", fileName))
		}
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			paths = append(paths, filepath.Join(xdg, "mysql-mcp", fileName))
		} else if homeDir := os.Getenv("HOME"); homeDir != "" {
			paths = append(paths, filepath.Join(homeDir, ".config", "mysql-mcp", fileName))
		}
	}

	if pwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(pwd, fileName))
	}

	return paths
}

func loadConfigFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.Source = path
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("MYSQL_HOST", &c.MySQL.Host)
	num("MYSQL_PORT", &c.MySQL.Port)
	str("MYSQL_USER", &c.MySQL.User)
	str("MYSQL_PASSWORD", &c.MySQL.Password)
	str("MYSQL_DATABASE", &c.MySQL.Database)
	num("MYSQL_POOL_SIZE", &c.MySQL.PoolSize)
	dur("MYSQL_ACQUIRE_TIMEOUT", &c.MySQL.AcquireTimeout)
	dur("MYSQL_QUERY_TIMEOUT", &c.MySQL.QueryTimeout)
	num("MCP_MAX_ROWS", &c.Server.MaxRows)
	dur("MCP_RESOURCE_CACHE_TTL", &c.Server.ResourceCacheTTL)
	str("MCP_HTTP_ADDR", &c.Server.HTTPAddr)
	str("MCP_LOG_LEVEL", &c.Logging.Level)
	str("MCP_LOG_FORMAT", &c.Logging.Format)
	str("MCP_LOG_FILE", &c.Logging.File)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ParseDuration accepts Go duration strings ("5s", "1m30s") or a bare
// number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.MySQL.Host, strconv.Itoa(c.MySQL.Port))
}

// DSN renders the go-sql-driver connection string. Timestamps are parsed
// into time.Time so rows serialize as RFC 3339.
func (c *Config) DSN() string {
	mc := mysql.NewConfig()
	mc.User = c.MySQL.User
	mc.Passwd = c.MySQL.Password
	mc.Net = "tcp"
	mc.Addr = c.Addr()
	mc.DBName = c.MySQL.Database
	mc.ParseTime = true
	mc.Timeout = c.MySQL.AcquireTimeout
	return mc.FormatDSN()
}

// Redacted is the DSN with the password masked, for logs.
func (c *Config) Redacted() string {
	return fmt.Sprintf("%s@tcp(%s)/%s", c.MySQL.User, c.Addr(), c.MySQL.Database)
}
