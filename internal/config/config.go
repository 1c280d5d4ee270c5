package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/meteolv/meteo-sync/internal/ckan"
	"github.com/meteolv/meteo-sync/internal/meteo"
)

type AppConfig struct {
	// Google Cloud project used for Firestore and OAuth quota attribution.
	ProjectID string

	// OAuth client configuration.
	ClientSecretPath  string
	TokenCachePath    string
	Scopes            []string
	TokenSafetyMargin time.Duration
	AuthTimeout       time.Duration

	// Firestore collection holding metric documents.
	Collection string

	// StoreBackend selects "firestore" or "memory".
	StoreBackend string

	// CKAN datastore endpoint and page size.
	CKANBaseURL string
	CKANBatch   int

	// Metrics is the abbreviation subset to sync. Empty means the full catalog.
	Metrics []string

	// SyncInterval controls how often the scheduler runs a full sync.
	SyncInterval time.Duration

	// PruneWindow is the per-station observation retention window.
	PruneWindow time.Duration

	HTTPTimeout time.Duration

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.ProjectID = os.Getenv("PROJECT_ID")
	cfg.ClientSecretPath = getenvDefault("CLIENT_SECRET_PATH", "secrets/client_secret.json")
	cfg.TokenCachePath = getenvDefault("TOKEN_CACHE_PATH", "secrets/.oauth_token.json")
	cfg.Scopes = splitCSV(getenvDefault("OAUTH_SCOPES", "https://www.googleapis.com/auth/datastore"))

	marginStr := getenvDefault("TOKEN_SAFETY_MARGIN", "60s")
	margin, err := time.ParseDuration(marginStr)
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_SAFETY_MARGIN: %w", err)
	}
	cfg.TokenSafetyMargin = margin

	authTimeoutStr := getenvDefault("AUTH_TIMEOUT", "5m")
	authTimeout, err := time.ParseDuration(authTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_TIMEOUT: %w", err)
	}
	cfg.AuthTimeout = authTimeout

	cfg.Collection = getenvDefault("COLLECTION", "meteorological_operational_data")

	cfg.StoreBackend = getenvDefault("STORE_BACKEND", "firestore")
	switch cfg.StoreBackend {
	case "firestore", "memory":
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: must be firestore or memory", cfg.StoreBackend)
	}
	if cfg.StoreBackend == "firestore" && cfg.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID is required when STORE_BACKEND is firestore")
	}

	cfg.CKANBaseURL = getenvDefault("CKAN_BASE_URL", ckan.DefaultBaseURL)
	cfg.CKANBatch = getenvInt("CKAN_BATCH", 10000)

	cfg.Metrics = splitCSV(os.Getenv("METRICS"))
	if len(cfg.Metrics) == 0 {
		cfg.Metrics = meteo.Abbreviations()
	} else {
		for _, abbr := range cfg.Metrics {
			if !meteo.IsKnown(abbr) {
				return nil, fmt.Errorf("unknown metric %q in METRICS", abbr)
			}
		}
	}

	// Scheduler interval: default 60 minutes, matching the feed cadence.
	intervalStr := getenvDefault("SYNC_INTERVAL", "60m")
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}
	cfg.SyncInterval = interval

	pruneStr := getenvDefault("PRUNE_WINDOW", "48h")
	prune, err := time.ParseDuration(pruneStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PRUNE_WINDOW: %w", err)
	}
	cfg.PruneWindow = prune

	httpTimeoutStr := getenvDefault("HTTP_TIMEOUT", "60s")
	httpTimeout, err := time.ParseDuration(httpTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = httpTimeout

	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
