package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sanaa-Creator-Market/service-escrow/pkg/database"
)

// PaystackConfig holds payment-provider credentials and limits.
type PaystackConfig struct {
	SecretKey   string
	BaseURL     string
	CallTimeout time.Duration
}

// JWTConfig holds token verification settings.
type JWTConfig struct {
	Secret string
}

// KafkaConfig holds broker addresses and the consumer-group prefix.
type KafkaConfig struct {
	Brokers     []string
	GroupPrefix string
}

// EscrowConfig holds the engine's business parameters.
type EscrowConfig struct {
	FeeRate           float64
	Currency          string
	AutoReleaseDays   int
	SchedulerInterval time.Duration
}

// ServiceConfig holds all configuration for the escrow service.
type ServiceConfig struct {
	Port        string
	AppEnv      string
	FrontendURL string
	DBConfig    database.PostgresConfig
	JWTConfig   JWTConfig
	KafkaConfig KafkaConfig
	Paystack    PaystackConfig
	Escrow      EscrowConfig
}

// Load reads configuration from environment variables and returns a ServiceConfig.
func Load() (*ServiceConfig, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVICE_PORT", ":8086")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "escrow")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_PREFIX", "sanaa.")
	v.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	v.SetDefault("PROVIDER_TIMEOUT_SECONDS", 30)
	v.SetDefault("FEE_RATE", 0.02)
	v.SetDefault("CURRENCY", "KES")
	v.SetDefault("AUTO_RELEASE_DAYS", 7)
	v.SetDefault("SCHEDULER_INTERVAL_MINUTES", 30)
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")

	port := v.GetString("SERVICE_PORT")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}

	return &ServiceConfig{
		Port:        port,
		AppEnv:      v.GetString("APP_ENV"),
		FrontendURL: strings.TrimRight(v.GetString("FRONTEND_URL"), "/"),
		DBConfig: database.PostgresConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		JWTConfig: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
		},
		KafkaConfig: KafkaConfig{
			Brokers:     strings.Split(v.GetString("KAFKA_BROKERS"), ","),
			GroupPrefix: v.GetString("KAFKA_GROUP_PREFIX"),
		},
		Paystack: PaystackConfig{
			SecretKey:   v.GetString("PAYSTACK_SECRET_KEY"),
			BaseURL:     v.GetString("PAYSTACK_BASE_URL"),
			CallTimeout: time.Duration(v.GetInt("PROVIDER_TIMEOUT_SECONDS")) * time.Second,
		},
		Escrow: EscrowConfig{
			FeeRate:           v.GetFloat64("FEE_RATE"),
			Currency:          v.GetString("CURRENCY"),
			AutoReleaseDays:   v.GetInt("AUTO_RELEASE_DAYS"),
			SchedulerInterval: time.Duration(v.GetInt("SCHEDULER_INTERVAL_MINUTES")) * time.Minute,
		},
	}, nil
}
