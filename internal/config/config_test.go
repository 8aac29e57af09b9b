package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("datatalk-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.ObjectStore.Driver != ObjectStoreDriverLocal {
		t.Fatalf("ObjectStore.Driver = %q", cfg.ObjectStore.Driver)
	}
	if cfg.Session.SampleRows != 3 {
		t.Fatalf("Session.SampleRows = %d", cfg.Session.SampleRows)
	}
	if cfg.Session.MaxHistoryMessages != 20 {
		t.Fatalf("Session.MaxHistoryMessages = %d", cfg.Session.MaxHistoryMessages)
	}
	if cfg.Query.RowLimit != 5000 {
		t.Fatalf("Query.RowLimit = %d", cfg.Query.RowLimit)
	}
	if cfg.Query.TopK != 20 {
		t.Fatalf("Query.TopK = %d", cfg.Query.TopK)
	}
	if cfg.Viz.DisplayThreshold != 15 || cfg.Viz.TableRowLimit != 20 {
		t.Fatalf("Viz = %+v", cfg.Viz)
	}
	if cfg.AI.Provider != AIProviderPlaceholder {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"DATATALK_PROFILE": "prod"})
	cfg, err := Load("datatalk-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.AI.Provider != AIProviderOpenAI {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"DATATALK_PROFILE":                        "test",
		"DATATALK_SERVICE_NAME":                   "datatalk-custom",
		"DATATALK_HTTP_ADDR":                      ":9999",
		"DATATALK_HTTP_READ_TIMEOUT":              "2s",
		"DATATALK_HTTP_WRITE_TIMEOUT":             "3s",
		"DATATALK_HTTP_MAX_BODY_BYTES":            "1024",
		"DATATALK_LOG_LEVEL":                      "error",
		"DATATALK_AUTH_REQUIRED":                  "true",
		"DATATALK_AUTH_STATIC_KEYS":               "k1:t1:analyst",
		"DATATALK_OBJECTSTORE_DRIVER":             "S3",
		"DATATALK_OBJECTSTORE_ENDPOINT":           "s3.example.com",
		"DATATALK_OBJECTSTORE_BUCKET":             "datatalk-prod",
		"DATATALK_OBJECTSTORE_REGION":             "us-west-2",
		"DATATALK_OBJECTSTORE_ACCESS_KEY":         "abc",
		"DATATALK_OBJECTSTORE_SECRET_KEY":         "def",
		"DATATALK_OBJECTSTORE_USE_SSL":            "true",
		"DATATALK_OBJECTSTORE_PREFIX":             "uploads",
		"DATATALK_OBJECTSTORE_AUTO_CREATE_BUCKET": "false",
		"DATATALK_SESSION_TTL":                    "5m",
		"DATATALK_SESSION_SWEEP_INTERVAL":         "10s",
		"DATATALK_SESSION_MAX_SESSIONS":           "8",
		"DATATALK_SESSION_MAX_HISTORY_MESSAGES":   "6",
		"DATATALK_SESSION_INFERENCE_ROWS":         "50",
		"DATATALK_SESSION_SAMPLE_ROWS":            "2",
		"DATATALK_QUERY_ROW_LIMIT":                "100",
		"DATATALK_QUERY_TIMEOUT":                  "4s",
		"DATATALK_QUERY_TOP_K":                    "7",
		"DATATALK_VIZ_DISPLAY_THRESHOLD":          "10",
		"DATATALK_VIZ_TABLE_ROW_LIMIT":            "12",
		"DATATALK_AI_PROVIDER":                    "openai",
		"DATATALK_AI_BASE_URL":                    "https://api.example.com/v1",
		"DATATALK_AI_API_KEY":                     "secret-key",
		"DATATALK_AI_MODEL":                       "gpt-4.1",
		"DATATALK_AI_TEMPERATURE":                 "0.3",
		"DATATALK_AI_TIMEOUT":                     "21s",
	})
	cfg, err := Load("datatalk-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "datatalk-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.HTTP.MaxBodyBytes != 1024 {
		t.Fatalf("HTTP.MaxBodyBytes = %d", cfg.HTTP.MaxBodyBytes)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required = false, want true")
	}
	if cfg.Auth.StaticKeys != "k1:t1:analyst" {
		t.Fatalf("StaticKeys = %q", cfg.Auth.StaticKeys)
	}
	if cfg.ObjectStore.Driver != ObjectStoreDriverS3 {
		t.Fatalf("ObjectStore.Driver = %q", cfg.ObjectStore.Driver)
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
	if cfg.ObjectStore.Bucket != "datatalk-prod" {
		t.Fatalf("ObjectStore.Bucket = %q", cfg.ObjectStore.Bucket)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL = false, want true")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket = true, want false")
	}
	if cfg.Session.TTL != 5*time.Minute {
		t.Fatalf("Session.TTL = %s", cfg.Session.TTL)
	}
	if cfg.Session.SweepInterval != 10*time.Second {
		t.Fatalf("Session.SweepInterval = %s", cfg.Session.SweepInterval)
	}
	if cfg.Session.MaxSessions != 8 {
		t.Fatalf("Session.MaxSessions = %d", cfg.Session.MaxSessions)
	}
	if cfg.Session.MaxHistoryMessages != 6 {
		t.Fatalf("Session.MaxHistoryMessages = %d", cfg.Session.MaxHistoryMessages)
	}
	if cfg.Session.InferenceSampleRows != 50 {
		t.Fatalf("Session.InferenceSampleRows = %d", cfg.Session.InferenceSampleRows)
	}
	if cfg.Session.SampleRows != 2 {
		t.Fatalf("Session.SampleRows = %d", cfg.Session.SampleRows)
	}
	if cfg.Query.RowLimit != 100 || cfg.Query.TopK != 7 || cfg.Query.Timeout != 4*time.Second {
		t.Fatalf("Query = %+v", cfg.Query)
	}
	if cfg.Viz.DisplayThreshold != 10 || cfg.Viz.TableRowLimit != 12 {
		t.Fatalf("Viz = %+v", cfg.Viz)
	}
	if cfg.AI.Provider != AIProviderOpenAI {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.BaseURL != "https://api.example.com/v1" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.AI.Model != "gpt-4.1" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"DATATALK_PROFILE": "oops"},
		{"DATATALK_HTTP_READ_TIMEOUT": "NaN"},
		{"DATATALK_SESSION_MAX_SESSIONS": "oops"},
		{"DATATALK_QUERY_ROW_LIMIT": "0"},
		{"DATATALK_QUERY_TOP_K": "-1"},
		{"DATATALK_VIZ_TABLE_ROW_LIMIT": "0"},
		{"DATATALK_OBJECTSTORE_DRIVER": "gcs"},
		{"DATATALK_OBJECTSTORE_LOCAL_DIR": ""},
		{"DATATALK_OBJECTSTORE_DRIVER": "s3", "DATATALK_OBJECTSTORE_BUCKET": ""},
		{"DATATALK_AI_PROVIDER": "anthropic"},
		{"DATATALK_AI_TEMPERATURE": "bad"},
		{"DATATALK_AUTH_REQUIRED": "not-bool"},
		{"DATATALK_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("datatalk-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
