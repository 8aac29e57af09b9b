package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	ObjectStoreDriverLocal = "local"
	ObjectStoreDriverS3    = "s3"

	AIProviderOpenAI      = "openai"
	AIProviderPlaceholder = "placeholder"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	ObjectStore   ObjectStoreConfig
	Session       SessionConfig
	Query         QueryConfig
	Viz           VizConfig
	AI            AIConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int
}

// ObjectStoreConfig selects where ingested datasets are staged as parquet
// before the per-session DuckDB store loads them.
type ObjectStoreConfig struct {
	Driver           string
	LocalDir         string
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type SessionConfig struct {
	TTL                 time.Duration
	SweepInterval       time.Duration
	MaxSessions         int
	MaxHistoryMessages  int
	InferenceSampleRows int
	SampleRows          int
}

type QueryConfig struct {
	RowLimit int
	Timeout  time.Duration
	TopK     int
}

type VizConfig struct {
	DisplayThreshold int
	TableRowLimit    int
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("DATATALK_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid DATATALK_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []func() error{
		func() error { return applyString(lookup, "DATATALK_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "DATATALK_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "DATATALK_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "DATATALK_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "DATATALK_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyInt(lookup, "DATATALK_HTTP_MAX_BODY_BYTES", &cfg.HTTP.MaxBodyBytes) },
		func() error { return applyString(lookup, "DATATALK_OBJECTSTORE_DRIVER", &cfg.ObjectStore.Driver) },
		func() error { return applyString(lookup, "DATATALK_OBJECTSTORE_LOCAL_DIR", &cfg.ObjectStore.LocalDir) },
		func() error { return applyString(lookup, "DATATALK_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "DATATALK_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "DATATALK_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "DATATALK_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "DATATALK_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "DATATALK_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "DATATALK_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "DATATALK_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyDuration(lookup, "DATATALK_SESSION_TTL", &cfg.Session.TTL) },
		func() error { return applyDuration(lookup, "DATATALK_SESSION_SWEEP_INTERVAL", &cfg.Session.SweepInterval) },
		func() error { return applyInt(lookup, "DATATALK_SESSION_MAX_SESSIONS", &cfg.Session.MaxSessions) },
		func() error { return applyInt(lookup, "DATATALK_SESSION_MAX_HISTORY_MESSAGES", &cfg.Session.MaxHistoryMessages) },
		func() error { return applyInt(lookup, "DATATALK_SESSION_INFERENCE_ROWS", &cfg.Session.InferenceSampleRows) },
		func() error { return applyInt(lookup, "DATATALK_SESSION_SAMPLE_ROWS", &cfg.Session.SampleRows) },
		func() error { return applyInt(lookup, "DATATALK_QUERY_ROW_LIMIT", &cfg.Query.RowLimit) },
		func() error { return applyDuration(lookup, "DATATALK_QUERY_TIMEOUT", &cfg.Query.Timeout) },
		func() error { return applyInt(lookup, "DATATALK_QUERY_TOP_K", &cfg.Query.TopK) },
		func() error { return applyInt(lookup, "DATATALK_VIZ_DISPLAY_THRESHOLD", &cfg.Viz.DisplayThreshold) },
		func() error { return applyInt(lookup, "DATATALK_VIZ_TABLE_ROW_LIMIT", &cfg.Viz.TableRowLimit) },
		func() error { return applyString(lookup, "DATATALK_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "DATATALK_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "DATATALK_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "DATATALK_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "DATATALK_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "DATATALK_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyBool(lookup, "DATATALK_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "DATATALK_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "DATATALK_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "DATATALK_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	cfg.ObjectStore.Driver = strings.ToLower(cfg.ObjectStore.Driver)
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch c.ObjectStore.Driver {
	case ObjectStoreDriverLocal:
		if c.ObjectStore.LocalDir == "" {
			return fmt.Errorf("object store local dir is required for driver %q", ObjectStoreDriverLocal)
		}
	case ObjectStoreDriverS3:
		if c.ObjectStore.Endpoint == "" || c.ObjectStore.Bucket == "" {
			return fmt.Errorf("object store endpoint and bucket are required for driver %q", ObjectStoreDriverS3)
		}
	default:
		return fmt.Errorf("invalid DATATALK_OBJECTSTORE_DRIVER: %q", c.ObjectStore.Driver)
	}
	switch c.AI.Provider {
	case AIProviderOpenAI, AIProviderPlaceholder:
	default:
		return fmt.Errorf("invalid DATATALK_AI_PROVIDER: %q", c.AI.Provider)
	}
	if c.Session.SampleRows < 0 || c.Session.InferenceSampleRows <= 0 {
		return fmt.Errorf("session sample sizes must be positive")
	}
	if c.Query.RowLimit <= 0 || c.Query.TopK <= 0 {
		return fmt.Errorf("query row limit and top-k must be positive")
	}
	if c.Viz.TableRowLimit <= 0 {
		return fmt.Errorf("viz table row limit must be positive")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "datatalk-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 32 << 20,
		},
		ObjectStore: ObjectStoreConfig{
			Driver:           ObjectStoreDriverLocal,
			LocalDir:         os.TempDir() + "/datatalk",
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "datatalk",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Session: SessionConfig{
			TTL:                 30 * time.Minute,
			SweepInterval:       time.Minute,
			MaxSessions:         256,
			MaxHistoryMessages:  20,
			InferenceSampleRows: 100,
			SampleRows:          3,
		},
		Query: QueryConfig{
			RowLimit: 5000,
			Timeout:  30 * time.Second,
			TopK:     20,
		},
		Viz: VizConfig{
			DisplayThreshold: 15,
			TableRowLimit:    20,
		},
		AI: AIConfig{
			Provider:    AIProviderPlaceholder,
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			Temperature: 0,
			Timeout:     60 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.AI.Provider = AIProviderOpenAI
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
