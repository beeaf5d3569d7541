package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Device   DeviceConfig
	Server   ServerConfig
	Imaging  ImagingConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	AMQP     AMQPConfig
	API      APIConfig
	LogLevel string
}

// DeviceConfig holds settings for talking to an OpenMatrix device
type DeviceConfig struct {
	BaseURL          string
	Name             string
	PollInterval     time.Duration
	PollInitialDelay time.Duration
	RequestTimeout   time.Duration
	UploadTimeout    time.Duration
	Retries          int
	RetryDelay       time.Duration
}

// ServerConfig holds mock device server configuration
type ServerConfig struct {
	Port         int
	ReadTimeout  int
	WriteTimeout int
	SeedPath     string
	MDNSName     string // empty disables mDNS advertisement
}

// ImagingConfig holds image ingestion settings
type ImagingConfig struct {
	Workers  int
	CacheTTL time.Duration
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Addr          string // empty disables Redis
	Password      string
	DB            int
	ConsumerGroup string
	ConsumerName  string
}

// MQTTConfig holds MQTT bridge configuration
type MQTTConfig struct {
	Broker      string // empty disables the bridge
	ClientID    string
	TopicPrefix string
}

// AMQPConfig holds AMQP-related configuration
type AMQPConfig struct {
	URL           string // empty disables AMQP
	Exchange      string
	PrefetchCount int // QoS prefetch count for load balancing
}

// APIConfig holds the bridge's local control API configuration
type APIConfig struct {
	Port int // 0 disables the API
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	cfg := &Config{
		Device: DeviceConfig{
			BaseURL:          getEnv("OPENMATRIX_URL", "http://openmatrix.local"),
			Name:             getEnv("OPENMATRIX_NAME", "openmatrix"),
			PollInterval:     getEnvAsDuration("OPENMATRIX_POLL_INTERVAL", 2*time.Second),
			PollInitialDelay: getEnvAsDuration("OPENMATRIX_POLL_INITIAL_DELAY", time.Second),
			RequestTimeout:   getEnvAsDuration("OPENMATRIX_REQUEST_TIMEOUT", 2*time.Second),
			UploadTimeout:    getEnvAsDuration("OPENMATRIX_UPLOAD_TIMEOUT", 5*time.Second),
			Retries:          getEnvAsInt("OPENMATRIX_RETRIES", 2),
			RetryDelay:       getEnvAsDuration("OPENMATRIX_RETRY_DELAY", time.Second),
		},
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
			SeedPath:     getEnv("MOCK_SEED_PATH", ""),
			MDNSName:     getEnv("MOCK_MDNS_NAME", ""),
		},
		Imaging: ImagingConfig{
			Workers:  getEnvAsInt("IMAGING_WORKERS", 2),
			CacheTTL: getEnvAsDuration("IMAGING_CACHE_TTL", 24*time.Hour),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", ""),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			ConsumerGroup: getEnv("REDIS_CONSUMER_GROUP", "openmatrix-bridge"),
			ConsumerName:  getEnv("REDIS_CONSUMER_NAME", ""),
		},
		MQTT: MQTTConfig{
			Broker:      getEnv("MQTT_BROKER", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", ""),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "openmatrix"),
		},
		AMQP: AMQPConfig{
			URL:           getEnv("AMQP_URL", ""),
			Exchange:      getEnv("AMQP_EXCHANGE", "openmatrix"),
			PrefetchCount: getEnvAsInt("AMQP_PREFETCH_COUNT", 1),
		},
		API: APIConfig{
			Port: getEnvAsInt("API_PORT", 0),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("1500ms") or bare milliseconds ("1500")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
