package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	pg "github.com/code-payments/premium-server/database/postgres"
)

const EnvPrefix = "PREMIUM_"

type PremiumConfig struct {
	Sku          string        `yaml:"sku"`
	SignatureKey string        `yaml:"signature-key"`
	RequestCode  int           `yaml:"request-code"`
	AutoNotify   bool          `yaml:"auto-notify-ads"`
	PayloadTTL   time.Duration `yaml:"payload-ttl"`
	SkuCacheTTL  time.Duration `yaml:"sku-cache-ttl"`

	// Product seeds the in-memory billing service in dev mode.
	Product ProductConfig `yaml:"product"`
}

type ProductConfig struct {
	Title         string `yaml:"title"`
	Description   string `yaml:"description"`
	PriceMicros   int64  `yaml:"price-micros"`
	PriceCurrency string `yaml:"price-currency"`
}

type PostgresConfig struct {
	URL    string `yaml:"url"`
	Driver string `yaml:"driver"`
}

type RedisConfig struct {
	Addr     string `yaml:"address"`
	Password string `yaml:"password"`
	Db       int    `yaml:"db"`
}

type PlayConfig struct {
	PackageName        string `yaml:"package-name"`
	ServiceAccountFile string `yaml:"service-account-file"`
}

type FirebaseConfig struct {
	CredentialsFile string `yaml:"credentials-file"`
	QueueSize       int    `yaml:"queue-size"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access-key"`
	SecretKey string `yaml:"secret-key"`
}

// LogConfig configures logging. With a File set, logs are also written to a
// rotated file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file-name"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
}

type Config struct {
	ListenAddr string `yaml:"listen-addr"`
	DevMode    bool   `yaml:"dev-mode"`

	Log      LogConfig      `yaml:"log"`
	Premium  PremiumConfig  `yaml:"premium"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Play     PlayConfig     `yaml:"play"`
	Firebase FirebaseConfig `yaml:"firebase"`
	S3       S3Config       `yaml:"s3"`
}

func Default() *Config {
	return &Config{
		ListenAddr: ":8085",
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Premium: PremiumConfig{
			RequestCode: 148,
			AutoNotify:  true,
			PayloadTTL:  24 * time.Hour,
			SkuCacheTTL: 10 * time.Minute,
			Product: ProductConfig{
				Title:         "Premium",
				Description:   "Removes ads",
				PriceMicros:   990000,
				PriceCurrency: "USD",
			},
		},
		Postgres: PostgresConfig{
			Driver: pg.DriverPgx,
		},
		Firebase: FirebaseConfig{
			QueueSize: 1024,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
	}
}

// Load reads the YAML file at path (if any) over the defaults, then applies
// PREMIUM_* variables from the environment and from a .env file in the
// working directory. The process environment wins over .env.
func Load(path string) (*Config, error) {
	return load(path, ".env")
}

func load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
		if values != nil {
			dotenv = values
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LISTEN_ADDR":               &c.ListenAddr,
		"LOG_LEVEL":                 &c.Log.Level,
		"LOG_FILE":                  &c.Log.File,
		"SKU":                       &c.Premium.Sku,
		"SIGNATURE_KEY":             &c.Premium.SignatureKey,
		"POSTGRES_URL":              &c.Postgres.URL,
		"POSTGRES_DRIVER":           &c.Postgres.Driver,
		"REDIS_ADDR":                &c.Redis.Addr,
		"REDIS_PASSWORD":            &c.Redis.Password,
		"PLAY_PACKAGE_NAME":         &c.Play.PackageName,
		"PLAY_SERVICE_ACCOUNT_FILE": &c.Play.ServiceAccountFile,
		"FIREBASE_CREDENTIALS_FILE": &c.Firebase.CredentialsFile,
		"S3_ENDPOINT":               &c.S3.Endpoint,
		"S3_REGION":                 &c.S3.Region,
		"S3_BUCKET":                 &c.S3.Bucket,
		"S3_ACCESS_KEY":             &c.S3.AccessKey,
		"S3_SECRET_KEY":             &c.S3.SecretKey,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REQUEST_CODE":        &c.Premium.RequestCode,
		"REDIS_DB":            &c.Redis.Db,
		"FIREBASE_QUEUE_SIZE": &c.Firebase.QueueSize,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"DEV_MODE":        &c.DevMode,
		"AUTO_NOTIFY_ADS": &c.Premium.AutoNotify,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"PAYLOAD_TTL":   &c.Premium.PayloadTTL,
		"SKU_CACHE_TTL": &c.Premium.SkuCacheTTL,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error
	if c.ListenAddr == "" {
		errs = multierr.Append(errs, errors.New("listen-addr is required"))
	}
	if c.Premium.Sku == "" {
		errs = multierr.Append(errs, errors.New("premium.sku is required"))
	}
	if c.Premium.RequestCode <= 0 {
		errs = multierr.Append(errs, errors.New("premium.request-code must be positive"))
	}
	if c.Premium.PayloadTTL <= 0 {
		errs = multierr.Append(errs, errors.New("premium.payload-ttl must be positive"))
	}
	if c.Premium.SkuCacheTTL < 0 {
		errs = multierr.Append(errs, errors.New("premium.sku-cache-ttl must not be negative"))
	}
	switch c.Postgres.Driver {
	case pg.DriverPgx, pg.DriverNrPgx:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unsupported postgres driver %q", c.Postgres.Driver))
	}
	if c.Play.ServiceAccountFile != "" && c.Play.PackageName == "" {
		errs = multierr.Append(errs, errors.New("play.package-name is required with a service account"))
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = multierr.Append(errs, errors.New("s3.region is required with a bucket"))
	}
	if c.Log.File != "" && c.Log.MaxSize <= 0 {
		errs = multierr.Append(errs, errors.New("log.max-size must be positive"))
	}
	return errs
}
