package env

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	HTTPAddr               = "HTTP_ADDR"
	AWSRegion              = "AWS_REGION"
	AWSID                  = "AWS_ID"
	AWSSecret              = "AWS_SECRET"
	AWSToken               = "AWS_TOKEN"
	DynamoDBEndpoint       = "DYNAMODB_ENDPOINT"
	OperatorSecretKey      = "OPERATOR_JWT_SECRET"
	ChatRedisURL           = "CHAT_REDIS_URL"
	ChatRedisPass          = "CHAT_REDIS_PASS"
	KafkaBrokers           = "KAFKA_BROKERS"
	KafkaChatTopic         = "KAFKA_CHAT_TOPIC"
	GeoLookupURL           = "GEO_LOOKUP_URL"
	AllowedOrigins         = "ALLOWED_ORIGINS"
	VisitorIPWindow        = "VISITOR_IP_WINDOW"
	SessionReopenWindow    = "SESSION_REOPEN_WINDOW"
	RetentionWindow        = "RETENTION_WINDOW"
	ActiveVisitorWindow    = "ACTIVE_VISITOR_WINDOW"
	CleanupInterval        = "CLEANUP_INTERVAL"
	WaitingEscalationAfter = "WAITING_ESCALATION_AFTER"
	RateLimitPerMinute     = "RATE_LIMIT_PER_MINUTE"
	QueueSize              = "QUEUE_SIZE"
	QueueWorkers           = "QUEUE_WORKERS"
)

type Config struct {
	HTTPAddr string

	AWSRegion        string
	AWSID            string
	AWSSecret        string
	AWSToken         string
	DynamoDBEndpoint string

	OperatorSecret string

	RedisURL  string
	RedisPass string

	KafkaBrokers []string
	KafkaTopic   string

	GeoLookupURL   string
	AllowedOrigins []string

	VisitorIPWindow        time.Duration
	SessionReopenWindow    time.Duration
	RetentionWindow        time.Duration
	ActiveVisitorWindow    time.Duration
	CleanupInterval        time.Duration
	WaitingEscalationAfter time.Duration

	RateLimitPerMinute int
	QueueSize          int
	QueueWorkers       int
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("env: load dotenv: %w", err)
	}

	cfg := Config{
		HTTPAddr:         GetOrDefault(HTTPAddr, ":8080"),
		AWSRegion:        GetOrDefault(AWSRegion, "eu-central-1"),
		AWSID:            Get(AWSID),
		AWSSecret:        Get(AWSSecret),
		AWSToken:         Get(AWSToken),
		DynamoDBEndpoint: Get(DynamoDBEndpoint),
		OperatorSecret:   Get(OperatorSecretKey),
		RedisURL:         Get(ChatRedisURL),
		RedisPass:        Get(ChatRedisPass),
		KafkaBrokers:     splitList(Get(KafkaBrokers)),
		KafkaTopic:       GetOrDefault(KafkaChatTopic, "support-chat-events"),
		GeoLookupURL:     Get(GeoLookupURL),
		AllowedOrigins:   splitList(GetOrDefault(AllowedOrigins, "http://localhost:3000")),
	}

	var err error
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{VisitorIPWindow, 24 * time.Hour, &cfg.VisitorIPWindow},
		{SessionReopenWindow, 24 * time.Hour, &cfg.SessionReopenWindow},
		{RetentionWindow, 24 * time.Hour, &cfg.RetentionWindow},
		{ActiveVisitorWindow, 30 * time.Minute, &cfg.ActiveVisitorWindow},
		{CleanupInterval, time.Hour, &cfg.CleanupInterval},
		{WaitingEscalationAfter, 0, &cfg.WaitingEscalationAfter},
	}
	for _, d := range durations {
		if *d.dst, err = GetDuration(d.key, d.def); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{RateLimitPerMinute, 60, &cfg.RateLimitPerMinute},
		{QueueSize, 100, &cfg.QueueSize},
		{QueueWorkers, 10, &cfg.QueueWorkers},
	}
	for _, i := range ints {
		if *i.dst, err = GetInt(i.key, i.def); err != nil {
			return Config{}, err
		}
	}

	if cfg.OperatorSecret == "" {
		return Config{}, fmt.Errorf("env: required environment variable not set: %s", OperatorSecretKey)
	}

	return cfg, nil
}

func Get(key string) string {
	return os.Getenv(key)
}

func GetOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func MustGet(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic("env: required environment variable not set: " + key)
	}
	return val
}

func GetDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("env: %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("env: %s must not be negative", key)
	}
	return d, nil
}

func GetInt(key string, defaultVal int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("env: %s: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
