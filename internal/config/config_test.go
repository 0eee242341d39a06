package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(serpAPIKeyEnv, "")
	t.Setenv(maxNewRecordsEnv, "")
	t.Setenv(storePathEnv, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Backend != BackendCSV {
		t.Fatalf("expected csv backend, got %s", cfg.Store.Backend)
	}
	if cfg.Ingest.KnownStreakStop != 8 {
		t.Fatalf("expected streak stop 8, got %d", cfg.Ingest.KnownStreakStop)
	}
	if cfg.Source.Retry.MaxAttempts != 5 {
		t.Fatalf("expected 5 fetch attempts, got %d", cfg.Source.Retry.MaxAttempts)
	}
	if cfg.Classifier.Provider != ProviderNone {
		t.Fatalf("expected classifier disabled by default, got %s", cfg.Classifier.Provider)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	t.Setenv(serpAPIKeyEnv, "")
	t.Setenv(maxNewRecordsEnv, "")
	t.Setenv(storePathEnv, "")

	path := writeConfig(t, `
source:
  dataId: "0xabc:0xdef"
  retry:
    maxAttempts: 3
    baseDelay: 500ms
ingest:
  knownStreakStop: 20
  interPageDelay: 2s
store:
  backend: SQLite
  path: data/reviews.db
classifier:
  provider: openai
  categories: ["Atendimento", "Preço"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Source.DataID != "0xabc:0xdef" {
		t.Fatalf("unexpected data id %q", cfg.Source.DataID)
	}
	if cfg.Source.Retry.MaxAttempts != 3 || cfg.Source.Retry.BaseDelay != 500*time.Millisecond {
		t.Fatalf("unexpected retry policy %+v", cfg.Source.Retry)
	}
	if cfg.Source.Retry.MaxDelay != time.Minute {
		t.Fatalf("max delay should keep its default, got %v", cfg.Source.Retry.MaxDelay)
	}
	if cfg.Ingest.KnownStreakStop != 20 || cfg.Ingest.InterPageDelay != 2*time.Second {
		t.Fatalf("unexpected ingest config %+v", cfg.Ingest)
	}
	if cfg.Store.Backend != BackendSQLite || cfg.Store.Path != "data/reviews.db" {
		t.Fatalf("unexpected store config %+v", cfg.Store)
	}
	if len(cfg.Classifier.Categories) != 2 {
		t.Fatalf("unexpected categories %v", cfg.Classifier.Categories)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(serpAPIKeyEnv, "secret")
	t.Setenv(storePathEnv, "/tmp/other.csv")
	t.Setenv(maxNewRecordsEnv, "25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Source.APIKey != "secret" {
		t.Fatalf("expected api key from env")
	}
	if cfg.Store.Path != "/tmp/other.csv" {
		t.Fatalf("expected store path from env, got %s", cfg.Store.Path)
	}
	if cfg.Ingest.MaxNewRecords != 25 {
		t.Fatalf("expected max new records 25, got %d", cfg.Ingest.MaxNewRecords)
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := writeConfig(t, "source: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected missing credentials to fail validation")
	}
	if !strings.Contains(err.Error(), "source.apiKey") || !strings.Contains(err.Error(), "source.dataId") {
		t.Fatalf("unexpected validation message: %v", err)
	}

	cfg.Source.APIKey = "k"
	cfg.Source.DataID = "d"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.Classifier.Provider = ProviderOpenAI
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected openai provider without key to fail")
	}

	cfg.Classifier.Provider = ProviderNone
	cfg.Store.Backend = BackendPostgres
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected postgres without dsn to fail")
	}
}

func TestValidateClassifyIgnoresSource(t *testing.T) {
	cfg := defaultConfig()
	cfg.Classifier.Provider = ProviderInference
	cfg.Classifier.Endpoint = "http://inference:8080"

	if err := cfg.ValidateClassify(); err != nil {
		t.Fatalf("classify needs no source credentials, got %v", err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "source.apiKey") {
		t.Fatalf("a full run still requires source credentials, got %v", err)
	}

	cfg.Classifier.Provider = ProviderNone
	if err := cfg.ValidateClassify(); err == nil || !strings.Contains(err.Error(), "classifier.provider") {
		t.Fatalf("expected missing provider to fail, got %v", err)
	}

	cfg.Classifier.Provider = ProviderOpenAI
	cfg.Store.Path = ""
	err := cfg.ValidateClassify()
	if err == nil || !strings.Contains(err.Error(), "store.path") || !strings.Contains(err.Error(), "classifier.apiKey") {
		t.Fatalf("expected store and classifier problems, got %v", err)
	}
}
