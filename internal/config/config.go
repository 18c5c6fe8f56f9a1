package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	// GatewayURL — базовый URL chat-gateway (каналы, сообщения, формы, треды).
	GatewayURL string
	// GatewayToken — bearer-токен для chat-gateway.
	GatewayToken string
	// VerifyServiceURL — если задан, токены верификации проверяются через
	// verify-service (GET /v1/verify/{token}).
	VerifyServiceURL string

	// BotUserID — идентификатор бота на платформе; им подписываются
	// синтетические сообщения (создание/закрытие тикета).
	BotUserID string
	// ArchiveChannelID — канал, куда складываются транскрипты закрытых тикетов.
	ArchiveChannelID string
	// StaffRoleIDs — роли, упоминаемые в staff-треде нового тикета.
	StaffRoleIDs []string

	// FormTimeout — ожидание отправки формы (intake и причина закрытия).
	FormTimeout time.Duration
	// DeleteGraceDelay — пауза между закрытием тикета и удалением канала.
	DeleteGraceDelay time.Duration

	// KafkaBrokers/KafkaTopicTicket — если заданы, события жизненного цикла
	// тикетов публикуются в Kafka (best-effort).
	KafkaBrokers     []string
	KafkaTopicTicket string

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:          getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:         firstEnv("APP_PORT", "HTTP_PORT", "8098"),
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		GatewayURL:       getEnv("GATEWAY_URL", ""),
		GatewayToken:     getEnv("GATEWAY_TOKEN", ""),
		VerifyServiceURL: getEnv("VERIFY_SERVICE_URL", ""),
		BotUserID:        getEnv("BOT_USER_ID", ""),
		ArchiveChannelID: getEnv("ARCHIVE_CHANNEL_ID", ""),
		StaffRoleIDs:     splitList(getEnv("STAFF_ROLE_IDS", "")),
		FormTimeout:      getDuration("FORM_TIMEOUT", 60*time.Second),
		DeleteGraceDelay: getDuration("DELETE_GRACE_DELAY", 5*time.Second),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicTicket: getEnv("KAFKA_TOPIC_TICKET", ""),
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "ticket_desk")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.GatewayURL == "" {
		return errors.New("config: GATEWAY_URL is required")
	}
	if c.BotUserID == "" {
		return errors.New("config: BOT_USER_ID is required")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func splitList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
