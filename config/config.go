package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string
	Port        string
	Environment string
	LogLevel    string
	// StoreLocation decides where a "day" starts for the COD throttle.
	StoreLocation *time.Location
	CORSOrigins   []string
	// TrustedProxies lists the proxy CIDRs whose X-Forwarded-For is honored.
	// Empty means the socket peer is always the client IP.
	TrustedProxies []string

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Catalog  CatalogConfig
	Gateway  GatewayConfig
	Invoice  InvoiceConfig
	Auth     AuthConfig
	OTP      OTPConfig
	Jaeger   JaegerConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	// PolicyTTL bounds how stale a cached policy may be.
	PolicyTTL time.Duration
}

type KafkaConfig struct {
	Brokers           []string
	OrderTopic        string
	NotificationTopic string
	AlertTopic        string
	GroupID           string
}

type CatalogConfig struct {
	Addr    string
	Timeout time.Duration
}

type GatewayConfig struct {
	BaseURL string
	KeyID   string
	// KeySecret signs browser payment confirmations.
	KeySecret string
	// WebhookSecret signs gateway webhooks. Empty means webhooks are
	// accepted as low-trust and re-checked against the gateway.
	WebhookSecret string
	Currency      string
	Timeout       time.Duration
}

type InvoiceConfig struct {
	RendererURL string // empty: invoices get a local reference
}

type AuthConfig struct {
	JWTSecret         string
	TokenTTL          time.Duration
	AdminUsername     string
	AdminPasswordHash string // bcrypt
}

type OTPConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
}

type JaegerConfig struct {
	Endpoint string
}

// Load reads configuration from the environment, falling back to an
// optional .env file and then to defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.SetConfigName(".env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	get := func(key, def string) string { return getEnvOrViper(v, key, def) }

	loc, err := time.LoadLocation(get("STORE_TIMEZONE", "Asia/Kolkata"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_TIMEZONE: %w", err)
	}

	cfg := &Config{
		ServiceName:    get("SERVICE_NAME", "checkout-service"),
		Port:           get("PORT", "8080"),
		Environment:    get("ENVIRONMENT", "development"),
		LogLevel:       get("LOG_LEVEL", "info"),
		StoreLocation:  loc,
		CORSOrigins:    splitList(get("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		TrustedProxies: splitList(get("TRUSTED_PROXIES", "")),
		Database: DatabaseConfig{
			Host:     get("DB_HOST", "localhost"),
			Port:     get("DB_PORT", "5432"),
			User:     get("DB_USER", "postgres"),
			Password: get("DB_PASSWORD", "postgres"),
			DBName:   get("DB_NAME", "checkout_db"),
			SSLMode:  get("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:      get("REDIS_HOST", "localhost"),
			Port:      get("REDIS_PORT", "6379"),
			Password:  get("REDIS_PASSWORD", ""),
			PolicyTTL: getDuration(v, "POLICY_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:           splitList(get("KAFKA_BROKERS", "localhost:9092")),
			OrderTopic:        get("KAFKA_ORDER_TOPIC", "order_events"),
			NotificationTopic: get("KAFKA_NOTIFICATION_TOPIC", "notifications"),
			AlertTopic:        get("KAFKA_ALERT_TOPIC", "reconciliation_alerts"),
			GroupID:           get("KAFKA_GROUP_ID", "checkout-worker"),
		},
		Catalog: CatalogConfig{
			Addr:    get("CATALOG_GRPC_ADDR", "localhost:50051"),
			Timeout: getDuration(v, "CATALOG_TIMEOUT", 3*time.Second),
		},
		Gateway: GatewayConfig{
			BaseURL:       strings.TrimRight(get("GATEWAY_BASE_URL", "https://api.razorpay.com/v1"), "/"),
			KeyID:         strings.TrimSpace(get("GATEWAY_KEY_ID", "")),
			KeySecret:     strings.TrimSpace(get("GATEWAY_KEY_SECRET", "")),
			WebhookSecret: strings.TrimSpace(get("GATEWAY_WEBHOOK_SECRET", "")),
			Currency:      get("STORE_CURRENCY", "INR"),
			Timeout:       getDuration(v, "GATEWAY_TIMEOUT", 10*time.Second),
		},
		Invoice: InvoiceConfig{
			RendererURL: strings.TrimSpace(get("INVOICE_RENDERER_URL", "")),
		},
		Auth: AuthConfig{
			JWTSecret:         get("JWT_SECRET", ""),
			TokenTTL:          getDuration(v, "JWT_TTL", 12*time.Hour),
			AdminUsername:     get("ADMIN_USERNAME", "admin"),
			AdminPasswordHash: get("ADMIN_PASSWORD_HASH", ""),
		},
		OTP: OTPConfig{
			TTL:            getDuration(v, "OTP_TTL", 5*time.Minute),
			MaxAttempts:    getInt(v, "OTP_MAX_ATTEMPTS", 5),
			ResendCooldown: getDuration(v, "OTP_RESEND_COOLDOWN", 30*time.Second),
		},
		Jaeger: JaegerConfig{
			Endpoint: get("JAEGER_ENDPOINT", "http://jaeger:14268/api/traces"),
		},
	}

	return cfg, nil
}

// ValidateServe checks what the HTTP API cannot run without.
func (c *Config) ValidateServe() error {
	if c.Gateway.KeySecret == "" {
		return fmt.Errorf("GATEWAY_KEY_SECRET is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	return nil
}

func getEnvOrViper(v *viper.Viper, key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return defaultValue
}

func getDuration(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	raw := getEnvOrViper(v, key, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}

func getInt(v *viper.Viper, key string, defaultValue int) int {
	if getEnvOrViper(v, key, "") == "" {
		return defaultValue
	}
	v.SetDefault(key, defaultValue)
	return v.GetInt(key)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
