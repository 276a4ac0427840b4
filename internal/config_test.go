package internal

import (
	"strings"
	"testing"
	"time"

	"github.com/notemill/notemill/internal/watch"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestSourceConfig_KnownFormat(t *testing.T) {
	cfg := SourceConfig{Format: "joplin", Path: "./export"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("known format should pass: %v", err)
	}
}

func TestSourceConfig_UnknownFormat(t *testing.T) {
	cfg := SourceConfig{Format: "evernote-web", Path: "./export"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown format should fail validation")
	}
}

func TestSourceConfig_MissingPath(t *testing.T) {
	cfg := SourceConfig{Format: "enex", Path: ""}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing path should fail validation")
	}
}

func TestOutputConfig_MissingDir(t *testing.T) {
	cfg := OutputConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing output dir should fail validation")
	}
}

func TestOutputConfig_BadFlavor(t *testing.T) {
	cfg := OutputConfig{Dir: "./vault", Flavor: "jsonfm"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown flavor should fail validation")
	}
}

func TestOutputConfig_EmptyEnumsPass(t *testing.T) {
	cfg := OutputConfig{Dir: "./vault"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty enum fields should pass: %v", err)
	}
}

func TestServeConfig_PortOutOfRange(t *testing.T) {
	cfg := ServeConfig{Port: 70000, Auth: AuthConfig{Mode: "disabled"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("out-of-range port should fail validation")
	}
}

func TestServeConfig_Address(t *testing.T) {
	cfg := ServeConfig{Port: 9000}
	if got := cfg.Address(); got != ":9000" {
		t.Errorf("address = %q, want %q", got, ":9000")
	}
}

func TestWatchConfig_BadDebounce(t *testing.T) {
	cfg := WatchConfig{Debounce: "fast"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("unparseable debounce should fail validation")
	}
	if !strings.Contains(err.Error(), "debounce") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWatchConfig_NegativeDebounce(t *testing.T) {
	cfg := WatchConfig{Debounce: "-1s"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("non-positive debounce should fail validation")
	}
}

func TestWatchConfig_Interval(t *testing.T) {
	cfg := WatchConfig{}
	if got := cfg.Interval(); got != watch.DefaultDebounce {
		t.Errorf("empty debounce interval = %v, want %v", got, watch.DefaultDebounce)
	}
	cfg.Debounce = "250ms"
	if got := cfg.Interval(); got != 250*time.Millisecond {
		t.Errorf("interval = %v, want 250ms", got)
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Serve.Auth.Mode = "token"
	cfg.Serve.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestFullConfig_LabelsBadSource(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sources = []SourceConfig{
		{Format: "joplin", Path: "./a"},
		{Format: "bogus", Path: "./b"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("bad source should fail validation")
	}
	if !strings.Contains(err.Error(), "sources[1]") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}
