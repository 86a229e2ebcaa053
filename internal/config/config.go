package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr  string
	DatabaseDSN string // empty keeps device state in memory

	BusKind    string // memory | nats | redis | mqtt
	CacheKind  string // none | redis | nats
	NATSURL    string
	RedisAddr  string
	MQTTBroker string
	MQTTUser   string
	MQTTPass   string

	SessionTopic   string
	ReplyTopic     string
	ClearPeriod    time.Duration
	SessionTimeout time.Duration

	TokenSecret     string
	TokenExpire     time.Duration
	AutoRegister    bool
	SaltTime        time.Duration
	HeartbeatPeriod time.Duration
	OnlineCacheTTL  time.Duration
	PublishTimeout  time.Duration

	// OperatorToken guards the platform routes; empty disables them.
	OperatorToken string
}

// MustLoad loads the required settings for the system to operate
func MustLoad() Config {
	return Config{
		ListenAddr:  getenv("LISTEN_ADDR", ":9090"),
		DatabaseDSN: getenv("DATABASE_DSN", ""),

		BusKind:    getenv("BUS_KIND", "memory"),
		CacheKind:  getenv("CACHE_KIND", "none"),
		NATSURL:    getenv("NATS_URL", "nats://localhost:4222"),
		RedisAddr:  getenv("REDIS_ADDR", "localhost:6379"),
		MQTTBroker: getenv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTUser:   getenv("MQTT_USERNAME", ""),
		MQTTPass:   getenv("MQTT_PASSWORD", ""),

		SessionTopic:   getenv("SESSION_TOPIC", "Commands"),
		ReplyTopic:     getenv("REPLY_TOPIC", "CommandReplies"),
		ClearPeriod:    seconds("CLEAR_PERIOD_SEC", 10),
		SessionTimeout: seconds("SESSION_TIMEOUT_SEC", 1200),

		TokenSecret:     getenv("TOKEN_SECRET", ""),
		TokenExpire:     seconds("TOKEN_EXPIRE_SEC", 7200),
		AutoRegister:    getenv("AUTO_REGISTER", "true") == "true",
		SaltTime:        seconds("SALT_TIME_SEC", 60),
		HeartbeatPeriod: seconds("HEARTBEAT_PERIOD_SEC", 60),
		OnlineCacheTTL:  seconds("ONLINE_CACHE_TTL_SEC", 600),
		PublishTimeout:  seconds("PUBLISH_TIMEOUT_SEC", 5),

		OperatorToken: getenv("OPERATOR_TOKEN", ""),
	}
}

// getenv fetches the env variables for the application to run
func getenv(k, d string) string {
	if v, ok := os.LookupEnv(k); ok {
		return v
	}
	return d
}

func seconds(k string, d int) time.Duration {
	sec, err := strconv.Atoi(getenv(k, ""))
	if err != nil {
		sec = d
	}
	return time.Duration(sec) * time.Second
}
