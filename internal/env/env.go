package env

import (
	"os"
	"strconv"
	"time"
)

const (
	AWSRegion          = "AWS_REGION"
	AWSID              = "AWS_ID"
	AWSSecret          = "AWS_SECRET"
	AWSToken           = "AWS_TOKEN"
	DynamoDBEndpoint   = "DYNAMODB_ENDPOINT"
	ArchiveTable       = "ARCHIVE_TABLE"
	AdminSecretKey     = "ADMIN_SECRET"
	RedisURL           = "REDIS_URL"
	RedisPass          = "REDIS_PASS"
	RedisDB            = "REDIS_DB"
	ListenAddr         = "LISTEN_ADDR"
	DispatchConfigFile = "DISPATCH_CONFIG_FILE"
	WorkerCount        = "WORKER_COUNT"
	WorkerQueueSize    = "WORKER_QUEUE_SIZE"
	AllowedOrigins     = "ALLOWED_ORIGINS"
)

// Required lists the variables the dispatcher process cannot start without.
var Required = []string{
	AdminSecretKey,
	RedisURL,
}

// Missing returns the required variables that are unset.
func Missing() []string {
	var out []string
	for _, key := range Required {
		if os.Getenv(key) == "" {
			out = append(out, key)
		}
	}
	return out
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

func IntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func DurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
