package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Pending  PendingConfig  `mapstructure:"pending"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Public   PublicConfig   `mapstructure:"public"`
	Push     PushConfig     `mapstructure:"push"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
	S3       S3Config       `mapstructure:"s3"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects the plan/contact store.
// Driver is one of memory, mongo, postgres, sqlite.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URI    string `mapstructure:"uri"`
	Name   string `mapstructure:"name"`
}

// PendingConfig controls where pending records live and how long they survive.
type PendingConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// AuthConfig holds the single operator credential pair and JWT settings.
type AuthConfig struct {
	JWTSecret        string        `mapstructure:"jwt_secret"`
	JWTExpiration    time.Duration `mapstructure:"jwt_expiration"`
	OperatorUsername string        `mapstructure:"operator_username"`
	OperatorPassword string        `mapstructure:"operator_password"`
}

type PublicConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TutorName string `mapstructure:"tutor_name"`
}

// PushConfig holds the VAPID key pair. Push is disabled when either key is empty.
type PushConfig struct {
	PublicKey  string `mapstructure:"public_key"`
	PrivateKey string `mapstructure:"private_key"`
	Subscriber string `mapstructure:"subscriber"`
	TTL        int    `mapstructure:"ttl"`
}

func (c PushConfig) Enabled() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

type WhatsAppConfig struct {
	AccountSID           string `mapstructure:"account_sid"`
	AuthToken            string `mapstructure:"auth_token"`
	From                 string `mapstructure:"from"`
	DefaultCountryCode   string `mapstructure:"default_country_code"`
	PlanApprovalTemplate string `mapstructure:"plan_approval_template"`
	ClassSignatureTmpl   string `mapstructure:"class_signature_template"`
	WebhookURL           string `mapstructure:"webhook_url"`
}

func (c WhatsAppConfig) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != ""
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

func (c TelegramConfig) Enabled() bool {
	return c.Token != ""
}

type EmailConfig struct {
	ResendAPIKey string `mapstructure:"resend_api_key"`
	From         string `mapstructure:"from"`
}

func (c EmailConfig) Enabled() bool {
	return c.ResendAPIKey != "" && c.From != ""
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

func (c S3Config) Enabled() bool {
	return c.BucketName != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// LoadConfig reads configuration from file or environment variables.
// A .env file in path is loaded into the environment first when present.
func LoadConfig(path string) (config Config, err error) {
	if err = godotenv.Load(strings.TrimSuffix(path, "/") + "/.env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// server.address -> SERVER_ADDRESS
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	setDefaults(v)

	err = v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	} else if err != nil {
		return
	}

	err = v.Unmarshal(&config)
	return config, err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "agenda_pro")
	v.SetDefault("pending.backend", "memory")
	v.SetDefault("pending.ttl", "48h")
	v.SetDefault("pending.sweep_schedule", "@every 10m")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiration", "12h")
	v.SetDefault("auth.operator_username", "diana")
	v.SetDefault("auth.operator_password", "12345")
	v.SetDefault("public.base_url", "http://localhost:8080")
	v.SetDefault("public.tutor_name", "Agenda Pro")
	v.SetDefault("push.public_key", "")
	v.SetDefault("push.private_key", "")
	v.SetDefault("push.subscriber", "mailto:admin@agendapro.local")
	v.SetDefault("push.ttl", 3600)
	v.SetDefault("whatsapp.account_sid", "")
	v.SetDefault("whatsapp.auth_token", "")
	v.SetDefault("whatsapp.from", "")
	v.SetDefault("whatsapp.default_country_code", "57")
	v.SetDefault("whatsapp.plan_approval_template", "")
	v.SetDefault("whatsapp.class_signature_template", "")
	v.SetDefault("whatsapp.webhook_url", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("email.resend_api_key", "")
	v.SetDefault("email.from", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.use_ssl", true)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.bucket_name", "")
}
