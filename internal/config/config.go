package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	MFA      MFAConfig
	SMS      SMSConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
}

type AuthConfig struct {
	JWTSecret          string
	EncryptionSecret   string // HKDF input for TOTP secret / backup code encryption
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	MaxFailedLogins    int
	LockoutDuration    time.Duration
}

type MFAConfig struct {
	TOTPIssuer      string
	BackupCodeCount int
	PendingLoginTTL time.Duration
	PendingSetupTTL time.Duration
}

type SMSConfig struct {
	OTPLength          int
	OTPExpiry          time.Duration
	MaxVerifyAttempts  int
	MaxResends         int
	ResendWindow       time.Duration
	AWSRegion          string
	SenderID           string
	Provider           string // "sns" or "log"
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	encryptionSecret := getEnv("ENCRYPTION_SECRET", "")
	if encryptionSecret == "" {
		return nil, fmt.Errorf("ENCRYPTION_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "taskhive"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseList(getEnv("ALLOWED_ORIGINS", "")),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			EncryptionSecret:   encryptionSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			MaxFailedLogins:    getEnvAsInt("MAX_FAILED_LOGINS", 5),
			LockoutDuration:    getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
		},
		MFA: MFAConfig{
			TOTPIssuer:      getEnv("TOTP_ISSUER", "TaskHive"),
			BackupCodeCount: getEnvAsInt("MFA_BACKUP_CODE_COUNT", 10),
			PendingLoginTTL: getEnvAsDuration("MFA_PENDING_LOGIN_TTL", 5*time.Minute),
			PendingSetupTTL: getEnvAsDuration("MFA_PENDING_SETUP_TTL", 15*time.Minute),
		},
		SMS: SMSConfig{
			OTPLength:         getEnvAsInt("SMS_OTP_LENGTH", 6),
			OTPExpiry:         getEnvAsDuration("SMS_OTP_EXPIRY", 5*time.Minute),
			MaxVerifyAttempts: getEnvAsInt("SMS_MAX_VERIFY_ATTEMPTS", 5),
			MaxResends:        getEnvAsInt("SMS_MAX_RESENDS", 3),
			ResendWindow:      getEnvAsDuration("SMS_RESEND_WINDOW", 60*time.Second),
			AWSRegion:         getEnv("SMS_AWS_REGION", "us-east-1"),
			SenderID:          getEnv("SMS_SENDER_ID", "TaskHive"),
			Provider:          getEnv("SMS_PROVIDER", "log"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateSecret("JWT_SECRET", jwtSecret, env); err != nil {
		return nil, err
	}
	if err := validateSecret("ENCRYPTION_SECRET", encryptionSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecret enforces minimum strength for application secrets
func validateSecret(name, secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
