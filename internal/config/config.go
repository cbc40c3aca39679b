// Package config reads server settings from the environment.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"
)

type Config struct {
	Port   string
	DBPath string
	AppID  string

	Store             string
	DynamoRegion      string
	DynamoEndpoint    string
	DynamoTablePrefix string

	JWTSecret []byte
	// JWTSecretGenerated is set when no secret was configured and a random
	// one was made for this process. Sessions do not survive a restart.
	JWTSecretGenerated bool
	SessionTTL         time.Duration

	LogLevel  string
	LogFormat string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	SMSGatewayURL string
	SMSToken      string
	SMSFrom       string

	// ProfileSeed seeds generated usernames and avatars. Zero picks a random
	// seed.
	ProfileSeed uint64

	// AllowedOrigins are extra websocket origin patterns besides the
	// request host.
	AllowedOrigins []string

	// TrustedProxies are the peers whose forwarding headers name the
	// client. Requests from anyone else are keyed by socket address.
	TrustedProxies []netip.Prefix

	Backup BackupConfig
}

// BackupConfig configures encrypted database snapshots to S3-compatible
// storage. Snapshots are off unless Bucket is set.
type BackupConfig struct {
	Bucket     string
	Prefix     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Passphrase string
	Interval   time.Duration
	Retention  time.Duration
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv. Invalid values are errors.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:              get("KIDQUEST_PORT", "8080"),
		DBPath:            get("KIDQUEST_DB_PATH", "kidquest.db"),
		AppID:             get("KIDQUEST_APP_ID", "kidquest"),
		Store:             strings.ToLower(get("KIDQUEST_STORE", StoreSQLite)),
		DynamoRegion:      get("KIDQUEST_DYNAMO_REGION", "us-east-1"),
		DynamoEndpoint:    get("KIDQUEST_DYNAMO_ENDPOINT", ""),
		DynamoTablePrefix: get("KIDQUEST_DYNAMO_TABLE_PREFIX", "kidquest_"),
		LogLevel:          get("KIDQUEST_LOG_LEVEL", "info"),
		LogFormat:         get("KIDQUEST_LOG_FORMAT", "text"),
		RedisAddr:         get("KIDQUEST_REDIS_ADDR", ""),
		RedisPassword:     getenv("KIDQUEST_REDIS_PASSWORD"),
		VAPIDPublicKey:    get("KIDQUEST_VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey:   get("KIDQUEST_VAPID_PRIVATE_KEY", ""),
		VAPIDSubscriber:   get("KIDQUEST_VAPID_SUBSCRIBER", "mailto:admin@kidquest.local"),
		SMSGatewayURL:     get("KIDQUEST_SMS_GATEWAY_URL", ""),
		SMSToken:          getenv("KIDQUEST_SMS_TOKEN"),
		SMSFrom:           get("KIDQUEST_SMS_FROM", "KidQuest"),
		Backup: BackupConfig{
			Bucket:     get("KIDQUEST_BACKUP_BUCKET", ""),
			Prefix:     get("KIDQUEST_BACKUP_PREFIX", "snapshots/"),
			Region:     get("KIDQUEST_S3_REGION", "us-east-1"),
			Endpoint:   get("KIDQUEST_S3_ENDPOINT", ""),
			AccessKey:  get("KIDQUEST_S3_ACCESS_KEY", ""),
			SecretKey:  getenv("KIDQUEST_S3_SECRET_KEY"),
			Passphrase: getenv("KIDQUEST_BACKUP_PASSPHRASE"),
		},
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("KIDQUEST_PORT %q: must be a number", cfg.Port)
	}
	if cfg.Store != StoreSQLite && cfg.Store != StoreDynamoDB {
		return nil, fmt.Errorf("KIDQUEST_STORE %q: must be %s or %s", cfg.Store, StoreSQLite, StoreDynamoDB)
	}
	if fmtName := strings.ToLower(cfg.LogFormat); fmtName != "text" && fmtName != "json" {
		return nil, fmt.Errorf("KIDQUEST_LOG_FORMAT %q: must be text or json", cfg.LogFormat)
	}

	ttl, err := time.ParseDuration(get("KIDQUEST_SESSION_TTL", "720h"))
	if err != nil || ttl <= 0 {
		return nil, fmt.Errorf("KIDQUEST_SESSION_TTL %q: must be a positive duration", getenv("KIDQUEST_SESSION_TTL"))
	}
	cfg.SessionTTL = ttl

	if v := get("KIDQUEST_REDIS_DB", "0"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			return nil, fmt.Errorf("KIDQUEST_REDIS_DB %q: must be a non-negative number", v)
		}
		cfg.RedisDB = db
	}

	if v := get("KIDQUEST_PROFILE_SEED", ""); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("KIDQUEST_PROFILE_SEED %q: must be an unsigned number", v)
		}
		cfg.ProfileSeed = seed
	}

	interval, err := time.ParseDuration(get("KIDQUEST_BACKUP_INTERVAL", "24h"))
	if err != nil || interval <= 0 {
		return nil, fmt.Errorf("KIDQUEST_BACKUP_INTERVAL %q: must be a positive duration", getenv("KIDQUEST_BACKUP_INTERVAL"))
	}
	cfg.Backup.Interval = interval

	retention, err := time.ParseDuration(get("KIDQUEST_BACKUP_RETENTION", "720h"))
	if err != nil || retention <= 0 {
		return nil, fmt.Errorf("KIDQUEST_BACKUP_RETENTION %q: must be a positive duration", getenv("KIDQUEST_BACKUP_RETENTION"))
	}
	cfg.Backup.Retention = retention

	if cfg.Backup.Bucket != "" && len(cfg.Backup.Passphrase) < 12 {
		return nil, errors.New("KIDQUEST_BACKUP_PASSPHRASE must be at least 12 characters when KIDQUEST_BACKUP_BUCKET is set")
	}
	if (cfg.Backup.AccessKey == "") != (cfg.Backup.SecretKey == "") {
		return nil, errors.New("KIDQUEST_S3_ACCESS_KEY and KIDQUEST_S3_SECRET_KEY must be set together")
	}

	if (cfg.VAPIDPublicKey == "") != (cfg.VAPIDPrivateKey == "") {
		return nil, errors.New("KIDQUEST_VAPID_PUBLIC_KEY and KIDQUEST_VAPID_PRIVATE_KEY must be set together")
	}

	for _, o := range strings.Split(getenv("KIDQUEST_WS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	for _, p := range strings.Split(getenv("KIDQUEST_TRUSTED_PROXIES"), ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		prefix, err := parsePrefix(p)
		if err != nil {
			return nil, fmt.Errorf("KIDQUEST_TRUSTED_PROXIES %q: %w", p, err)
		}
		cfg.TrustedProxies = append(cfg.TrustedProxies, prefix)
	}

	if secret := getenv("KIDQUEST_JWT_SECRET"); secret != "" {
		if len(secret) < 32 {
			return nil, errors.New("KIDQUEST_JWT_SECRET must be at least 32 bytes")
		}
		cfg.JWTSecret = []byte(secret)
	} else {
		cfg.JWTSecret = make([]byte, 32)
		if _, err := rand.Read(cfg.JWTSecret); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.JWTSecretGenerated = true
	}

	return cfg, nil
}

// parsePrefix accepts a CIDR or a single address.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
