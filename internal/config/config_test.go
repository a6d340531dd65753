package config

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Set required env vars for all subtests
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL":   "postgres://localhost/test",
		"OPENAI_API_KEY": "sk-test",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.TranscriptPath != "./logs/transcript.log" {
			t.Errorf("TranscriptPath = %q", cfg.TranscriptPath)
		}
		if cfg.ArchiveDir != "./analysis" {
			t.Errorf("ArchiveDir = %q, want ./analysis", cfg.ArchiveDir)
		}
		if cfg.RetrievalTopK != 5 || cfg.SimilarityThreshold != 0.5 || cfg.MinRelevantChunks != 1 || cfg.MaxContextLength != 3000 {
			t.Errorf("retrieval defaults = %d/%g/%d/%d", cfg.RetrievalTopK, cfg.SimilarityThreshold, cfg.MinRelevantChunks, cfg.MaxContextLength)
		}
		if cfg.FeedbackDelay != time.Second || cfg.ResponseTTL != 30*time.Second {
			t.Errorf("feedback defaults = %s/%s", cfg.FeedbackDelay, cfg.ResponseTTL)
		}
		if cfg.FeedbackMinResponseChars != 10 || cfg.FeedbackMaxPhraseWords != 3 || cfg.FeedbackMinPhraseChars != 10 {
			t.Errorf("phrase thresholds = %d/%d/%d", cfg.FeedbackMinResponseChars, cfg.FeedbackMaxPhraseWords, cfg.FeedbackMinPhraseChars)
		}
		if cfg.ClassifierModel != cfg.ChatModel {
			t.Errorf("ClassifierModel = %q, want chat model %q", cfg.ClassifierModel, cfg.ChatModel)
		}
		if cfg.MQTTClientID != "meeting-copilot" {
			t.Errorf("MQTTClientID = %q, want meeting-copilot", cfg.MQTTClientID)
		}
		if cfg.S3.Enabled() {
			t.Error("S3 enabled without a bucket")
		}
		if !cfg.SpeakResponses || !cfg.ResetTranscript {
			t.Error("SpeakResponses and ResetTranscript default to true")
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:        "nonexistent.env",
			HTTPAddr:       ":9090",
			LogLevel:       "debug",
			DatabaseURL:    "postgres://override/db",
			MQTTBrokerURL:  "tcp://override:1883",
			TranscriptPath: "/tmp/t.log",
			ArchiveDir:     "/tmp/analysis",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.MQTTBrokerURL != "tcp://override:1883" {
			t.Errorf("MQTTBrokerURL = %q, want override", cfg.MQTTBrokerURL)
		}
		if cfg.TranscriptPath != "/tmp/t.log" || cfg.ArchiveDir != "/tmp/analysis" {
			t.Errorf("paths = %q, %q", cfg.TranscriptPath, cfg.ArchiveDir)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		c := setEnvs(t, map[string]string{
			"S3_BUCKET":           "archive",
			"S3_PREFIX":           "copilot",
			"CLASSIFIER_MODEL":    "gpt-4.1-nano",
			"WATCH_POLL_INTERVAL": "250ms",
		})
		defer c()
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !cfg.S3.Enabled() || cfg.S3.Prefix != "copilot" || cfg.S3.Region != "us-east-1" {
			t.Errorf("S3 = %+v", cfg.S3)
		}
		if cfg.ClassifierModel != "gpt-4.1-nano" {
			t.Errorf("ClassifierModel = %q", cfg.ClassifierModel)
		}
		if cfg.WatchPollInterval != 250*time.Millisecond {
			t.Errorf("WatchPollInterval = %s", cfg.WatchPollInterval)
		}
	})

	t.Run("empty_overrides_use_env", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		// Empty override fields should not overwrite env values
		if cfg.DatabaseURL != "postgres://localhost/test" {
			t.Errorf("DatabaseURL = %q, want env value", cfg.DatabaseURL)
		}
	})

	t.Run("out_of_range_rejected", func(t *testing.T) {
		c := setEnvs(t, map[string]string{
			"SIMILARITY_THRESHOLD": "1.5",
			"RETRIEVAL_TOP_K":      "0",
		})
		defer c()
		_, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("err = %v, want ErrInvalid", err)
		}
	})
}

func TestLoadMissingRequired(t *testing.T) {
	// Clear any existing values
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL":   "",
		"OPENAI_API_KEY": "",
	})
	defer cleanup()
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("OPENAI_API_KEY")

	_, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err == nil {
		t.Error("expected error when required env vars are missing")
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
