package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix は設定を上書きする環境変数のプレフィックスです (例: USERSTORE_DATABASE_PASSWORD)。
// 汎用的な変数名 (USER, HOST など) へのフォールバックを避けるため、末端のフィールドには envconfig タグを付けません。
const EnvPrefix = "USERSTORE"

const (
	defaultListBatchSize = 100
	defaultMetricsAddr   = ":9090"
)

// Config はアプリケーション全体の設定を表現します。
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Store    StoreConfig    `yaml:"store" envconfig:"STORE"`
	Cache    CacheConfig    `yaml:"cache" envconfig:"CACHE"`
	Log      LogConfig      `yaml:"log" envconfig:"LOG"`
}

// ServerConfig は gRPC ヘルスチェックと運用 HTTP エンドポイントに関する設定です。
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr" split_words:"true"`
	MetricsAddr string `yaml:"metrics_addr" split_words:"true"`
}

// DatabaseConfig は PostgreSQL 接続に関する設定です。
type DatabaseConfig struct {
	Host            string        `yaml:"host" split_words:"true"`
	Port            int           `yaml:"port" split_words:"true"`
	User            string        `yaml:"user" split_words:"true"`
	Password        string        `yaml:"password" split_words:"true"`
	Name            string        `yaml:"name" split_words:"true"`
	SSLMode         string        `yaml:"ssl_mode" split_words:"true"`
	MaxOpenConns    int           `yaml:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `yaml:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" split_words:"true"`
}

// StoreConfig はユーザーストアの挙動に関する設定です。
type StoreConfig struct {
	UniqueEmail         bool `yaml:"unique_email" split_words:"true"`
	ValidateEmailFormat bool `yaml:"validate_email_format" split_words:"true"`
	ListBatchSize       int  `yaml:"list_batch_size" split_words:"true"`
}

// CacheConfig は Redis によるレコードキャッシュの設定です。
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" split_words:"true"`
	Addr    string        `yaml:"addr" split_words:"true"`
	TTL     time.Duration `yaml:"ttl" split_words:"true"`
}

// LogConfig はログ出力の設定です。
type LogConfig struct {
	Format string `yaml:"format" split_words:"true"`
	Level  string `yaml:"level" split_words:"true"`
}

// Load は指定されたパスから設定ファイルを読み込み、環境変数で上書きします。
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: apply env: %w", err)
	}

	if err := cfg.validateAndNormalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validateAndNormalize() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr must be set")
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = defaultMetricsAddr
	}

	if err := c.Database.validateAndNormalize(); err != nil {
		return err
	}

	if c.Store.ListBatchSize < 0 {
		return fmt.Errorf("config: store.list_batch_size must not be negative")
	}
	if c.Store.ListBatchSize == 0 {
		c.Store.ListBatchSize = defaultListBatchSize
	}

	if err := c.Cache.validateAndNormalize(); err != nil {
		return err
	}

	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return nil
}

func (d *DatabaseConfig) validateAndNormalize() error {
	if d.Host == "" {
		return fmt.Errorf("config: database.host must be set")
	}
	if d.Port == 0 {
		return fmt.Errorf("config: database.port must be set")
	}
	if d.User == "" {
		return fmt.Errorf("config: database.user must be set")
	}
	if d.Password == "" {
		return fmt.Errorf("config: database.password must be set")
	}
	if d.Name == "" {
		return fmt.Errorf("config: database.name must be set")
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}

	if d.ConnMaxLifetime < 0 {
		return fmt.Errorf("config: database.conn_max_lifetime must not be negative")
	}
	if d.ConnMaxIdleTime < 0 {
		return fmt.Errorf("config: database.conn_max_idle_time must not be negative")
	}

	return nil
}

func (c *CacheConfig) validateAndNormalize() error {
	if c.TTL < 0 {
		return fmt.Errorf("config: cache.ttl must not be negative")
	}
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return fmt.Errorf("config: cache.addr must be set when cache is enabled")
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	return nil
}

// DSN は pgx 用の接続文字列を返します。認証情報は URL エンコードされます。
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}
