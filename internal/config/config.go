package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	LogMode  string

	// DBDriver: sqlite | postgres
	DBDriver string
	DBDSN    string

	RedisAddr string
	RedisDB   int

	// SessionBackend: redis | db | memory
	SessionBackend string

	// Kafka 集群地址（逗号分隔）、订单事件 Topic、支付回调 Topic 与消费者组
	KafkaBrokers      []string
	OrderEventTopic   string
	PaymentEventTopic string
	PaymentGroupID    string

	// Redis Stream outbox（下单状态变化原子入流，Relay 异步转 Kafka）
	OrderEventStream   string
	OrderEventGroup    string
	OrderEventConsumer string

	// 消息接口限流
	MessageRateLimit  int
	MessageRateWindow time.Duration

	// 会话与流程参数
	SessionTTL       time.Duration
	CatalogCacheTTL  time.Duration
	MaxAttempts      int
	TooFarRetryLimit int // 0 表示不限制（商户策略）

	// LLM 分类兜底，未配置 key 时直接跳过该层
	OpenAIAPIKey string
	OpenAIModel  string
	LLMTimeout   time.Duration

	GeocoderURL     string
	GeocoderTimeout time.Duration

	PaymentAPIURL    string
	PaymentKeyID     string
	PaymentKeySecret string

	// 管理接口的简单令牌（人工接管、覆盖规则配置）
	AdminToken string
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogMode:            getEnv("LOG_MODE", "dev"),
		DBDriver:           strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBDSN:              getEnv("DB_DSN", "chat_order.db"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:            0,
		SessionBackend:     strings.ToLower(getEnv("SESSION_BACKEND", "redis")),
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		OrderEventTopic:    getEnv("ORDER_EVENT_TOPIC", "chat-order-events"),
		PaymentEventTopic:  getEnv("PAYMENT_EVENT_TOPIC", "chat-order-payments"),
		PaymentGroupID:     getEnv("PAYMENT_GROUP_ID", "chat-order-payment-consumer"),
		OrderEventStream:   getEnv("ORDER_EVENT_STREAM", "chat_order:order_events"),
		OrderEventGroup:    getEnv("ORDER_EVENT_GROUP", "chat-order-relay-group"),
		OrderEventConsumer: getEnv("ORDER_EVENT_CONSUMER", "chat-order-relay-1"),
		MessageRateLimit:   20,
		MessageRateWindow:  10 * time.Second,
		SessionTTL:         15 * time.Minute,
		CatalogCacheTTL:    60 * time.Second,
		MaxAttempts:        3,
		TooFarRetryLimit:   0,
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		LLMTimeout:         8 * time.Second,
		GeocoderURL:        getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org/search"),
		GeocoderTimeout:    8 * time.Second,
		PaymentAPIURL:      getEnv("PAYMENT_API_URL", ""),
		PaymentKeyID:       getEnv("PAYMENT_KEY_ID", ""),
		PaymentKeySecret:   getEnv("PAYMENT_KEY_SECRET", ""),
		AdminToken:         getEnv("ADMIN_TOKEN", "dev-admin-token"),
	}

	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return AppConfig{}, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}

	switch cfg.SessionBackend {
	case "redis", "db", "memory":
	default:
		return AppConfig{}, fmt.Errorf("SESSION_BACKEND must be redis, db or memory, got %q", cfg.SessionBackend)
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	rateLimit, err := getEnvInt("MESSAGE_RATE_LIMIT", cfg.MessageRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid MESSAGE_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("MESSAGE_RATE_LIMIT must be > 0")
	}
	cfg.MessageRateLimit = rateLimit

	if cfg.MessageRateWindow, err = getEnvSeconds("MESSAGE_RATE_WINDOW_SEC", cfg.MessageRateWindow); err != nil {
		return AppConfig{}, err
	}
	if cfg.SessionTTL, err = getEnvMinutes("SESSION_TTL_MIN", cfg.SessionTTL); err != nil {
		return AppConfig{}, err
	}
	if cfg.CatalogCacheTTL, err = getEnvSeconds("CATALOG_CACHE_TTL_SEC", cfg.CatalogCacheTTL); err != nil {
		return AppConfig{}, err
	}
	if cfg.LLMTimeout, err = getEnvSeconds("LLM_TIMEOUT_SEC", cfg.LLMTimeout); err != nil {
		return AppConfig{}, err
	}
	if cfg.GeocoderTimeout, err = getEnvSeconds("GEOCODER_TIMEOUT_SEC", cfg.GeocoderTimeout); err != nil {
		return AppConfig{}, err
	}

	maxAttempts, err := getEnvInt("MAX_ATTEMPTS", cfg.MaxAttempts)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid MAX_ATTEMPTS: %w", err)
	}
	if maxAttempts < 1 {
		return AppConfig{}, fmt.Errorf("MAX_ATTEMPTS must be >= 1")
	}
	cfg.MaxAttempts = maxAttempts

	tooFar, err := getEnvInt("TOO_FAR_RETRY_LIMIT", cfg.TooFarRetryLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid TOO_FAR_RETRY_LIMIT: %w", err)
	}
	if tooFar < 0 {
		return AppConfig{}, fmt.Errorf("TOO_FAR_RETRY_LIMIT must be >= 0")
	}
	cfg.TooFarRetryLimit = tooFar

	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.OrderEventTopic == "" || cfg.PaymentEventTopic == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_TOPIC and PAYMENT_EVENT_TOPIC must not be empty")
	}
	if cfg.OrderEventStream == "" || cfg.OrderEventGroup == "" || cfg.OrderEventConsumer == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_STREAM/GROUP/CONSUMER must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// getEnvSeconds 以秒为单位读取时长，必须 > 0。
func getEnvSeconds(key string, fallback time.Duration) (time.Duration, error) {
	n, err := getEnvInt(key, int(fallback.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return time.Duration(n) * time.Second, nil
}

func getEnvMinutes(key string, fallback time.Duration) (time.Duration, error) {
	n, err := getEnvInt(key, int(fallback.Minutes()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return time.Duration(n) * time.Minute, nil
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
