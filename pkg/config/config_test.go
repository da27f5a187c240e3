package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := chdirTemp(t)
	cfg, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8000" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.LLM.APIBase != "https://openrouter.ai/api/v1" || cfg.LLM.Model != "deepseek/deepseek-r1-0528:free" {
		t.Fatalf("llm defaults = %+v", cfg.LLM)
	}
	if cfg.LLM.Timeout != 30*time.Second || cfg.LLM.CheckOutput {
		t.Fatalf("timeout/check_output defaults = %v/%v", cfg.LLM.Timeout, cfg.LLM.CheckOutput)
	}
	if cfg.Menu.Path != "content/questions.yaml" || cfg.Line.APIBase != "https://api.line.me" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadConfigEnvironmentWins(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "config.yaml")
	file := "llm:\n  model: from-file\n  max_tokens: 512\nserver:\n  port: 9000\n"
	if err := os.WriteFile(path, []byte(file), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("LLM_MODEL", "from-env")
	t.Setenv("LINE_CHANNEL_SECRET", " secret ")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("LLM_CHECK_OUTPUT", "true")
	t.Setenv("DATABASE_USE_IN_MEMORY", "true")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Model != "from-env" || cfg.LLM.MaxTokens != 512 || cfg.Server.Port != 9000 {
		t.Fatalf("precedence wrong: %+v %+v", cfg.LLM, cfg.Server)
	}
	if cfg.Line.ChannelSecret != "secret" {
		t.Fatalf("secret not trimmed: %q", cfg.Line.ChannelSecret)
	}
	if cfg.LLM.Timeout != 5*time.Second || !cfg.LLM.CheckOutput || !cfg.Database.UseInMemory {
		t.Fatalf("env overrides = %+v %+v", cfg.LLM, cfg.Database)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Fatalf("redis url = %q", cfg.Redis.URL)
	}
}

func TestLoadConfigDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LLM_X_TITLE=From Dotenv\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Registered so the variable godotenv sets is removed afterwards.
	t.Setenv("LLM_X_TITLE", "")
	os.Unsetenv("LLM_X_TITLE")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.XTitle != "From Dotenv" {
		t.Fatalf("x_title = %q", cfg.LLM.XTitle)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Host: "0.0.0.0", Port: 8000}}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"LINE_CHANNEL_SECRET", "LINE_CHANNEL_ACCESS_TOKEN", "LLM_API_KEY", "DATABASE_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}

	cfg.Line = LineConfig{ChannelSecret: "s", ChannelAccessToken: "t"}
	cfg.LLM.APIKey = "k"
	cfg.Database.UseInMemory = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
