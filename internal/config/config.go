package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/keysync.db"

	// Broker
	NATSURL       string
	SubjectPrefix string
	AckToken      string

	// Device health store; empty addr = in-memory.
	RedisAddr      string
	HealthTTLHours int

	// Closed facility set, fixed at startup.
	Facilities []string

	// How often the resyncer republishes dirty access points.
	// 0 disables it.
	ResyncIntervalMinutes int
}

func FromEnv() Config {
	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	addr := getenvDefault("KEYSYNC_HTTP_ADDR", ":8080")

	env := strings.ToLower(getenvDefault("KEYSYNC_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	dbPath := getenvDefault("KEYSYNC_DB_PATH", "./data/keysync.db")

	facilities := splitCSV(getenvDefault("KEYSYNC_FACILITIES", "Lounge,Spa,Pool,Gym"))

	return Config{
		HTTPAddr: addr,
		Env:      env,
		DBPath:   dbPath,

		NATSURL:       getenvDefault("KEYSYNC_NATS_URL", "nats://127.0.0.1:4222"),
		SubjectPrefix: getenvDefault("KEYSYNC_SUBJECT_PREFIX", "keysync.device"),
		AckToken:      getenvDefault("KEYSYNC_ACK_TOKEN", "ACK"),

		RedisAddr:      os.Getenv("KEYSYNC_REDIS_ADDR"),
		HealthTTLHours: getenvInt("KEYSYNC_HEALTH_TTL_HOURS", 24),

		Facilities: facilities,

		ResyncIntervalMinutes: getenvInt("KEYSYNC_RESYNC_INTERVAL_MINUTES", 10),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
