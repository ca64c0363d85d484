package config

import (
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Addr    string
	APIKey  string
	BaseURL string

	TestOutput []string
	SaveOutput bool
	Log        bool
	OutDir     string

	Transports []string
	MQTTBroker string
	MQTTPrefix string

	LogLevel slog.Level
}

const (
	TransportWebSocket = "ws"
	TransportMQTT      = "mqtt"
)

func Load() Config {
	return Config{
		Addr:       getenv("SSAM_ADDR", ":5173"),
		APIKey:     envFirst("SSAM_REPLICATE_API_KEY", "REPLICATE_API_TOKEN"),
		BaseURL:    strings.TrimSpace(os.Getenv("REPLICATE_BASE_URL")),
		TestOutput: getenvCSV("SSAM_TEST_OUTPUT", []string{""}),
		SaveOutput: envBool("SSAM_SAVE_OUTPUT", true),
		Log:        envBool("SSAM_LOG", true),
		OutDir:     getenv("SSAM_OUT_DIR", "./output"),
		Transports: getenvCSV("SSAM_TRANSPORTS", []string{TransportWebSocket}),
		MQTTBroker: getenv("SSAM_MQTT_BROKER", "tcp://localhost:1883"),
		MQTTPrefix: getenv("SSAM_MQTT_PREFIX", "ssam"),
		LogLevel:   envLevel("SSAM_LOG_LEVEL", slog.LevelInfo),
	}
}

// Enabled reports whether the named transport was requested.
func (c Config) Enabled(transport string) bool {
	for _, t := range c.Transports {
		if strings.EqualFold(t, transport) {
			return true
		}
	}
	return false
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvCSV(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	values := splitCSV(raw)
	if len(values) == 0 {
		return fallback
	}
	return values
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func envFirst(keys ...string) string {
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value != "" {
			return value
		}
	}
	return ""
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	return raw == "1" || raw == "true" || raw == "yes" || raw == "on"
}

func envLevel(key string, fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}
