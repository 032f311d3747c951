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

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "environment: test\ntrading:\n  symbols: [ETHUSDT]\n")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Monitor.PollInterval != 5*time.Second {
		t.Fatalf("poll interval = %v, want 5s", c.Monitor.PollInterval)
	}
	if c.Trading.ConfidenceThreshold != 0.6 {
		t.Fatalf("threshold = %v, want 0.6", c.Trading.ConfidenceThreshold)
	}
	if c.RL.Epsilon != 0.2 || c.RL.Alpha != 0.1 || c.RL.Gamma != 0.95 {
		t.Fatalf("unexpected rl defaults: %+v", c.RL)
	}
	if c.Risk.VolatilityWindow != 20 || c.Risk.VolatilityInterval != "1h" {
		t.Fatalf("unexpected risk defaults: %+v", c.Risk)
	}
	if c.Monitor.OnFailure != "alert" {
		t.Fatalf("on_failure = %q", c.Monitor.OnFailure)
	}
	if len(c.Trading.Symbols) != 1 || c.Trading.Symbols[0] != "ETHUSDT" {
		t.Fatalf("symbols = %v", c.Trading.Symbols)
	}
	if c.Scheduler.RetrainInterval != 6*time.Hour {
		t.Fatalf("retrain interval = %v", c.Scheduler.RetrainInterval)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"on_failure":   "monitor:\n  on_failure: panic\n",
		"threshold":    "trading:\n  confidence_threshold: 1.5\n",
		"redis state":  "state:\n  backend: redis\n",
		"advisor key":  "advisor:\n  enabled: true\n",
		"queue redis":  "queue:\n  enabled: true\n",
		"alpha":        "rl:\n  alpha: 0\n",
		"poll":         "monitor:\n  poll_interval: -1s\n",
		"state driver": "state:\n  backend: s3\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "environment: test\n")
	t.Setenv("SYMBOLS", "BTCUSDT,SOLUSDT")
	t.Setenv("TELEGRAM_TOKEN", "tok")
	t.Setenv("DRY_RUN", "false")

	c, err := LoadWithEnv(path)
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if strings.Join(c.Trading.Symbols, ",") != "BTCUSDT,SOLUSDT" {
		t.Fatalf("symbols = %v", c.Trading.Symbols)
	}
	if c.Telegram.Token != "tok" {
		t.Fatalf("token = %q", c.Telegram.Token)
	}
	if c.Binance.DryRun {
		t.Fatalf("dry run should be disabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
