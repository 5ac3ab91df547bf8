package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Monitor.Mode != "auto" || cfg.Monitor.SettleDelay != time.Second {
		t.Errorf("unexpected monitor defaults: %+v", cfg.Monitor)
	}
	if cfg.Classifier.SizeThreshold != 50*1024*1024 {
		t.Errorf("expected 50 MiB threshold, got %d", cfg.Classifier.SizeThreshold)
	}
	if len(cfg.Classifier.Ignore) != 3 {
		t.Errorf("expected default ignore list, got %v", cfg.Classifier.Ignore)
	}
	if cfg.Policy.SuspiciousFloor != 70 || cfg.Policy.AllClearCeiling != 50 {
		t.Errorf("unexpected policy: %+v", cfg.Policy)
	}
	if cfg.Scoring.Seed != 42 || cfg.Scoring.Trees != 100 || len(cfg.Scoring.Reference) != 3 {
		t.Errorf("unexpected scoring defaults: %+v", cfg.Scoring)
	}
}

// TestLoad_Precedence 文件 < 环境变量 < 命令行
func TestLoad_Precedence(t *testing.T) {
	yamlContent := []byte(`
agent:
  log_level: "debug"
  target_path: "/media/from-file"

monitor:
  mode: "poll"
  settle_delay: "250ms"

scoring:
  model: "centroid"
  reference:
    - [40, 0, 0]
    - [60, 0, 1]

classifier:
  ignore:
    - "autorun.inf"
`)
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(tmpFile, yamlContent, 0644); err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}

	t.Setenv("USBH_MONITOR_SETTLE_DELAY", "2s")
	t.Setenv("USBH_POLICY_SUSPICIOUS_FLOOR", "80")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("path", "", "")
	flags.Duration("rescan", 0, "")
	if err := flags.Parse([]string{"--path", "/media/from-flag", "--rescan", "30s"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpFile, flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Agent.LogLevel != "debug" || cfg.Monitor.Mode != "poll" {
		t.Errorf("file values not applied: %+v %+v", cfg.Agent, cfg.Monitor)
	}
	if cfg.Agent.TargetPath != "/media/from-flag" {
		t.Errorf("flag should override file, got %q", cfg.Agent.TargetPath)
	}
	if cfg.Monitor.SettleDelay != 2*time.Second {
		t.Errorf("env should override file, got %v", cfg.Monitor.SettleDelay)
	}
	if cfg.Monitor.RescanInterval != 30*time.Second {
		t.Errorf("expected rescan 30s, got %v", cfg.Monitor.RescanInterval)
	}
	if cfg.Policy.SuspiciousFloor != 80 {
		t.Errorf("expected floor 80, got %v", cfg.Policy.SuspiciousFloor)
	}
	if cfg.Scoring.Model != "centroid" || len(cfg.Scoring.Reference) != 2 || cfg.Scoring.Reference[1][2] != 1 {
		t.Errorf("unexpected scoring: %+v", cfg.Scoring)
	}
	if len(cfg.Classifier.Ignore) != 1 || cfg.Classifier.Ignore[0] != "autorun.inf" {
		t.Errorf("unexpected ignore list: %v", cfg.Classifier.Ignore)
	}
	// 未配置的项保持默认
	if cfg.Monitor.PollInterval != time.Second {
		t.Errorf("expected default poll interval, got %v", cfg.Monitor.PollInterval)
	}

	sc := cfg.ScorerConfig()
	if sc.Model != "centroid" || sc.Forest.Seed != 42 {
		t.Errorf("unexpected scorer config: %+v", sc)
	}
	if p := cfg.ScanPolicy(); p.SuspiciousFloor != 80 || p.AllClearCeiling != 50 {
		t.Errorf("unexpected scan policy: %+v", p)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("USBH_MONITOR_MODE", "carrier-pigeon")
	t.Setenv("USBH_CLASSIFIER_SIZE_THRESHOLD", "-1")
	if _, err := Load("", nil); err == nil {
		t.Error("expected validation error")
	}
}
