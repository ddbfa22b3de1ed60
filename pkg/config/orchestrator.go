package config

import "time"

// OrchestratorConfig holds runtime configuration for the orchestrator service.
type OrchestratorConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	PreviewDomain      string
	WebhookSecret      string
	RequireChecks      bool
	ArgoServer         string
	ArgoToken          string
	ArgoInsecure       bool
	ArgoProject        string
	ChartRepoURL       string
	ChartPath          string
	ReconcileWorkers   int
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	DriverTimeout      time.Duration
	DriverPollInterval time.Duration
	ResyncInterval     time.Duration
	JanitorInterval    time.Duration
	JanitorRetention   time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadOrchestratorConfig constructs an OrchestratorConfig from environment variables.
func LoadOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://snapenv:snapenv@db:5432/snapenv?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		PreviewDomain:      GetString("PREVIEW_DOMAIN", "preview.localhost"),
		WebhookSecret:      GetString("GITHUB_WEBHOOK_SECRET", ""),
		RequireChecks:      GetBool("REQUIRE_CHECKS", false),
		ArgoServer:         GetString("ARGOCD_SERVER", "https://localhost:8080"),
		ArgoToken:          GetString("ARGOCD_TOKEN", ""),
		ArgoInsecure:       GetBool("ARGOCD_INSECURE", false),
		ArgoProject:        GetString("ARGOCD_PROJECT", "snapenv"),
		ChartRepoURL:       GetString("CHART_REPO_URL", ""),
		ChartPath:          GetString("CHART_PATH", "infra/helm/snapenv"),
		ReconcileWorkers:   GetInt("RECONCILE_WORKERS", 4),
		MaxAttempts:        GetInt("RECONCILE_MAX_ATTEMPTS", 5),
		BackoffBase:        time.Duration(GetInt("RECONCILE_BACKOFF_SECONDS", 5)) * time.Second,
		BackoffMax:         time.Duration(GetInt("RECONCILE_BACKOFF_MAX_SECONDS", 300)) * time.Second,
		DriverTimeout:      time.Duration(GetInt("DRIVER_TIMEOUT_SECONDS", 120)) * time.Second,
		DriverPollInterval: time.Duration(GetInt("DRIVER_POLL_SECONDS", 5)) * time.Second,
		ResyncInterval:     time.Duration(GetInt("RESYNC_INTERVAL_SECONDS", 600)) * time.Second,
		JanitorInterval:    time.Duration(GetInt("JANITOR_INTERVAL_SECONDS", 300)) * time.Second,
		JanitorRetention:   time.Duration(GetInt("JANITOR_RETENTION_HOURS", 24)) * time.Hour,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
