package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.SessionTTLDuration() != 15*time.Minute {
		t.Errorf("SessionTTL = %v, want 15m", cfg.SessionTTLDuration())
	}
	if cfg.ReplayWindowDuration() != 30*time.Second {
		t.Errorf("ReplayWindow = %v, want 30s", cfg.ReplayWindowDuration())
	}
	if cfg.TokenRotateDefault {
		t.Error("TokenRotateDefault should default to false")
	}
	if cfg.RequireBatchSignature {
		t.Error("RequireBatchSignature should default to false")
	}
	if cfg.MaxBatchBytes != 5<<20 {
		t.Errorf("MaxBatchBytes = %d, want %d", cfg.MaxBatchBytes, 5<<20)
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.ConfigTokenIssuer != "telemetry-ingest" {
		t.Errorf("ConfigTokenIssuer = %q", cfg.ConfigTokenIssuer)
	}
	if cfg.KafkaTopic != "ingest-batches" {
		t.Errorf("KafkaTopic = %q", cfg.KafkaTopic)
	}
	if cfg.KafkaBrokersList() != nil {
		t.Errorf("KafkaBrokersList = %v, want nil", cfg.KafkaBrokersList())
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":7070")
	os.Setenv("SESSION_TTL", "5m")
	os.Setenv("TOKEN_ROTATE_DEFAULT", "true")
	os.Setenv("REQUIRE_BATCH_SIGNATURE", "true")
	os.Setenv("MAX_BATCH_BYTES", "1024")
	os.Setenv("BCRYPT_COST", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("HTTPAddr = %q, want :7070", cfg.HTTPAddr)
	}
	if cfg.SessionTTLDuration() != 5*time.Minute {
		t.Errorf("SessionTTL = %v, want 5m", cfg.SessionTTLDuration())
	}
	if !cfg.TokenRotateDefault || !cfg.RequireBatchSignature {
		t.Error("bool overrides not applied")
	}
	if cfg.MaxBatchBytes != 1024 {
		t.Errorf("MaxBatchBytes = %d, want 1024", cfg.MaxBatchBytes)
	}
	if cfg.BcryptCost != 10 {
		t.Errorf("BcryptCost = %d, want 10", cfg.BcryptCost)
	}
}

func TestLoad_BCRYPT_COSTRange(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  int
		err   bool
	}{
		{"valid min", "4", 4, false},
		{"valid max", "31", 31, false},
		{"too low", "3", 0, true},
		{"too high", "32", 0, true},
		{"zero", "0", 12, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("BCRYPT_COST", tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BcryptCost != tc.want {
				t.Errorf("BcryptCost = %d, want %d", cfg.BcryptCost, tc.want)
			}
		})
	}
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	os.Clearenv()
	os.Setenv("APP_ENV", "production")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should reject the default config token secret in production")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}

	os.Setenv("CONFIG_TOKEN_SECRET", "a-real-secret")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with explicit secret: %v", err)
	}
}

func TestLoad_NonPositiveBatchBytes(t *testing.T) {
	os.Clearenv()
	os.Setenv("MAX_BATCH_BYTES", "0")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject MAX_BATCH_BYTES=0")
	}
}

func TestDurationAccessors_Fallback(t *testing.T) {
	testCases := []struct {
		value string
		want  time.Duration
	}{
		{"2m", 2 * time.Minute},
		{"invalid", 15 * time.Minute},
		{"0", 15 * time.Minute},
		{"-5m", 15 * time.Minute},
		{"", 15 * time.Minute},
	}
	for _, tc := range testCases {
		cfg := &Config{SessionTTL: tc.value, ConfigTokenTTL: tc.value}
		if got := cfg.SessionTTLDuration(); got != tc.want {
			t.Errorf("SessionTTLDuration(%q) = %v, want %v", tc.value, got, tc.want)
		}
		if got := cfg.ConfigTokenTTLDuration(); got != tc.want {
			t.Errorf("ConfigTokenTTLDuration(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
	cfg := &Config{ReplayWindow: "bogus", DBConnectTimeout: "bogus"}
	if cfg.ReplayWindowDuration() != 30*time.Second {
		t.Errorf("ReplayWindowDuration = %v, want 30s", cfg.ReplayWindowDuration())
	}
	if cfg.DBConnectTimeoutDuration() != 30*time.Second {
		t.Errorf("DBConnectTimeoutDuration = %v, want 30s", cfg.DBConnectTimeoutDuration())
	}
}

func TestKafkaBrokersList(t *testing.T) {
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should yield nil brokers")
	}
	cfg := &Config{KafkaBrokers: " a:9092, ,b:9092 ,"}
	want := []string{"a:9092", "b:9092"}
	if got := cfg.KafkaBrokersList(); !reflect.DeepEqual(got, want) {
		t.Errorf("KafkaBrokersList = %v, want %v", got, want)
	}
}
