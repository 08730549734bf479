package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

var isGCP = os.Getenv("GOOGLE_CLOUD_PROJECT") != ""

// getSecret retrieves the value of a secret from Google Cloud Secret Manager or environment variables.
func getSecret(key string) (string, error) {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID != "" {
		return accessSecretVersion(fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, key))
	}

	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("environment variable %q not set", key)
	}
	return value, nil
}

// getRequiredSecret is a helper func to get a required secret or fatal log on error.
func getRequiredSecret(key string) string {
	val, err := getSecret(key)
	if err != nil {
		log.Fatalf("FATAL: Cannot get required secret %q: %v", key, err)
	}
	if val == "" {
		log.Fatalf("FATAL: Required secret %q is empty", key)
	}
	return val
}

// getOptionalSecret is a helper func to get an optional secret with a default value.
func getOptionalSecret(key, defaultValue string) string {
	val, err := getSecret(key)
	if err != nil || val == "" {
		return defaultValue
	}
	return val
}

// parseIntDefault parses an integer secret, falling back to def when unset or invalid.
func parseIntDefault(key string, def int) int {
	valStr, err := getSecret(key)
	if err != nil || valStr == "" {
		return def
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		log.Fatalf("FATAL: Invalid integer value for secret %q: %v", key, err)
	}
	return val
}

// parseDurationDefault parses a duration secret (e.g., "15m", "3s"), falling back to def when unset.
func parseDurationDefault(key string, def time.Duration) time.Duration {
	valStr, err := getSecret(key)
	if err != nil || valStr == "" {
		return def
	}
	val, err := time.ParseDuration(valStr)
	if err != nil {
		log.Fatalf("FATAL: Invalid duration value for secret %q (e.g. '15m'): %v", key, err)
	}
	return val
}

// splitList splits a comma-separated secret value into a trimmed slice.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
