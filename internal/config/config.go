// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Shipped deploy admission limits. The per-origin cap leaves room for a
// visitor to click deploy again on an instance that is already up.
const (
	DefaultGlobalDeployLimit  = 3
	DefaultGlobalDeployWindow = time.Hour
	DefaultOriginDeployLimit  = 5
	DefaultOriginDeployWindow = time.Minute
)

type Config struct {
	HTTPAddr    string
	Env         string
	AdminToken  string
	DatabaseURL string
	AutoMigrate bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ProjectsFile      string
	ProjectSecretsDir string

	ComputeProvider string
	GCPProjectID    string
	GCPZone         string
	GCPMachineType  string

	DockerPublicHost string
	DockerBaseImage  string

	InstanceLifetime   time.Duration
	GlobalDeployLimit  int
	GlobalDeployWindow time.Duration
	OriginDeployLimit  int
	OriginDeployWindow time.Duration

	RecaptchaSecretKey string
	RecaptchaSiteKey   string
	RecaptchaMinScore  float64
	VerifyTimeout      time.Duration

	ProviderTimeout time.Duration
	ReaperInterval  time.Duration
	ReaperEnabled   bool

	RequestsPerMinute  int
	TrustProxyHeaders  bool
	StatusPushInterval time.Duration
	AllowedOrigins     []string

	NotifyWebhookURL    string
	NotifyWebhookSecret string
}

func Load() Config {
	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		Env:         getenv("ENV", "dev"),
		AdminToken:  getenv("ADMIN_TOKEN", ""),
		DatabaseURL: getenv("DATABASE_URL", ""),
		AutoMigrate: getenvBool("AUTO_MIGRATE", true),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		ProjectsFile:      getenv("PROJECTS_FILE", ""),
		ProjectSecretsDir: getenv("PROJECT_SECRETS_DIR", "/opt/demo-orchestrator/secrets/projects"),

		ComputeProvider: getenv("COMPUTE_PROVIDER", "docker"),
		GCPProjectID:    getenv("GCP_PROJECT_ID", ""),
		GCPZone:         getenv("GCP_ZONE", "us-east1-c"),
		GCPMachineType:  getenv("GCP_MACHINE_TYPE", "e2-micro"),

		DockerPublicHost: getenv("DOCKER_PUBLIC_HOST", "localhost"),
		DockerBaseImage:  getenv("DOCKER_BASE_IMAGE", "node:20-bookworm"),

		InstanceLifetime:   getenvDuration("INSTANCE_LIFETIME", 2*time.Hour),
		GlobalDeployLimit:  getenvInt("GLOBAL_DEPLOY_LIMIT", DefaultGlobalDeployLimit),
		GlobalDeployWindow: getenvDuration("GLOBAL_DEPLOY_WINDOW", DefaultGlobalDeployWindow),
		OriginDeployLimit:  getenvInt("ORIGIN_DEPLOY_LIMIT", DefaultOriginDeployLimit),
		OriginDeployWindow: getenvDuration("ORIGIN_DEPLOY_WINDOW", DefaultOriginDeployWindow),

		RecaptchaSecretKey: getenv("RECAPTCHA_SECRET_KEY", ""),
		RecaptchaSiteKey:   getenv("RECAPTCHA_SITE_KEY", ""),
		RecaptchaMinScore:  getenvFloat("RECAPTCHA_MIN_SCORE", 0.5),
		VerifyTimeout:      getenvDuration("VERIFY_TIMEOUT", 10*time.Second),

		ProviderTimeout: getenvDuration("PROVIDER_TIMEOUT", 2*time.Minute),
		ReaperInterval:  getenvDuration("REAPER_INTERVAL", 30*time.Second),
		ReaperEnabled:   getenvBool("REAPER_ENABLED", true),

		RequestsPerMinute:  getenvInt("REQUESTS_PER_MINUTE", 20),
		TrustProxyHeaders:  getenvBool("TRUST_PROXY_HEADERS", false),
		StatusPushInterval: getenvDuration("STATUS_PUSH_INTERVAL", 5*time.Second),
		AllowedOrigins:     getenvList("ALLOWED_ORIGINS"),

		NotifyWebhookURL:    getenv("NOTIFY_WEBHOOK_URL", ""),
		NotifyWebhookSecret: getenv("NOTIFY_WEBHOOK_SECRET", ""),
	}
}

func getenv(key, defaultValue string) string {
	v := os.Getenv(key)
	if v != "" {
		return v
	}
	return defaultValue
}

func getenvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getenvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getenvFloat(key string, defaultValue float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getenvDuration accepts Go duration syntax ("90m") or a bare number of seconds.
func getenvDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
