// Package config
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/Hara602/usbHeuristic/internal/analysis"
	"github.com/Hara602/usbHeuristic/internal/scanner"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 USBH_AGENT_TARGET_PATH 覆盖 agent.target_path
const EnvPrefix = "USBH"

// ==========================================
// 顶层配置结构
// ==========================================

type AppConfig struct {
	Agent      AgentConfig      `mapstructure:"agent"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Policy     PolicyConfig     `mapstructure:"policy"`
}

type AgentConfig struct {
	// 日志级别: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`
	// 需要监控的挂载点，其父目录下新建的目录都会被扫描
	TargetPath string `mapstructure:"target_path"`
}

type MonitorConfig struct {
	// 目录监听方式: auto, inotify, poll
	Mode         string        `mapstructure:"mode"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// 定时重扫 target_path，0 关闭
	RescanInterval time.Duration `mapstructure:"rescan_interval"`
	// 额外监听 udev 热插拔 (仅 Linux)
	Udev         bool          `mapstructure:"udev"`
	MountTimeout time.Duration `mapstructure:"mount_timeout"`
}

type ScoringConfig struct {
	// iforest 或 centroid
	Model         string  `mapstructure:"model"`
	Seed          int64   `mapstructure:"seed"`
	Trees         int     `mapstructure:"trees"`
	Contamination float64 `mapstructure:"contamination"`
	Scale         float64 `mapstructure:"scale"`
	// 正常 U 盘的参考样本 [total, exe, hidden]
	Reference [][]float64 `mapstructure:"reference"`
}

type ClassifierConfig struct {
	Ignore        []string `mapstructure:"ignore"`
	SizeThreshold int64    `mapstructure:"size_threshold"`
}

type PolicyConfig struct {
	SuspiciousFloor float64 `mapstructure:"suspicious_floor"`
	AllClearCeiling float64 `mapstructure:"all_clear_ceiling"`
}

// flagKeys 命令行参数到配置项的映射
var flagKeys = map[string]string{
	"path":      "agent.target_path",
	"log-level": "agent.log_level",
	"mode":      "monitor.mode",
	"settle":    "monitor.settle_delay",
	"rescan":    "monitor.rescan_interval",
	"udev":      "monitor.udev",
	"model":     "scoring.model",
}

// Load 优先级: 命令行 > 环境变量 > 配置文件 > 默认值
// configPath 为空时只使用默认值和环境变量
func Load(configPath string, flags *pflag.FlagSet) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 不读任何外部来源的默认配置
func Default() *AppConfig {
	cfg, err := Load("", nil)
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// setDefaults 与最初的硬编码行为保持一致
func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.log_level", "info")
	v.SetDefault("agent.target_path", defaultTarget())

	v.SetDefault("monitor.mode", "auto")
	v.SetDefault("monitor.settle_delay", "1s")
	v.SetDefault("monitor.poll_interval", "1s")
	v.SetDefault("monitor.rescan_interval", "0s")
	v.SetDefault("monitor.udev", false)
	v.SetDefault("monitor.mount_timeout", "3s")

	forest := analysis.DefaultForestConfig()
	v.SetDefault("scoring.model", analysis.ModelIsolationForest)
	v.SetDefault("scoring.seed", forest.Seed)
	v.SetDefault("scoring.trees", forest.Trees)
	v.SetDefault("scoring.contamination", forest.Contamination)
	v.SetDefault("scoring.scale", forest.Scale)
	v.SetDefault("scoring.reference", analysis.DefaultReference)

	v.SetDefault("classifier.ignore", analysis.DefaultIgnore)
	v.SetDefault("classifier.size_threshold", analysis.DefaultSizeThreshold)

	v.SetDefault("policy.suspicious_floor", scanner.DefaultSuspiciousFloor)
	v.SetDefault("policy.all_clear_ceiling", scanner.DefaultAllClearCeiling)
}

func defaultTarget() string {
	if runtime.GOOS == "windows" {
		return `E:\`
	}
	return "/media/usb"
}

// Validate 拒绝明显无效的配置
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Agent.TargetPath == "" {
		errs = append(errs, errors.New("agent.target_path is required"))
	}
	switch c.Monitor.Mode {
	case "auto", "inotify", "poll":
	default:
		errs = append(errs, fmt.Errorf("monitor.mode %q is not one of auto, inotify, poll", c.Monitor.Mode))
	}
	if c.Monitor.SettleDelay < 0 || c.Monitor.RescanInterval < 0 {
		errs = append(errs, errors.New("monitor durations must not be negative"))
	}
	if c.Monitor.PollInterval <= 0 {
		errs = append(errs, errors.New("monitor.poll_interval must be positive"))
	}
	if c.Classifier.SizeThreshold <= 0 {
		errs = append(errs, errors.New("classifier.size_threshold must be positive"))
	}
	if c.Policy.SuspiciousFloor < 0 || c.Policy.SuspiciousFloor > 100 ||
		c.Policy.AllClearCeiling < 0 || c.Policy.AllClearCeiling > 100 {
		errs = append(errs, errors.New("policy thresholds must be within [0, 100]"))
	}
	return errors.Join(errs...)
}

// ScorerConfig 转换为评分模型参数
func (c *AppConfig) ScorerConfig() analysis.ScorerConfig {
	return analysis.ScorerConfig{
		Model:     c.Scoring.Model,
		Reference: c.Scoring.Reference,
		Forest: analysis.ForestConfig{
			Trees:         c.Scoring.Trees,
			MaxSamples:    256,
			Contamination: c.Scoring.Contamination,
			Seed:          c.Scoring.Seed,
			Scale:         c.Scoring.Scale,
		},
	}
}

// ScanPolicy 转换为融合/报告阈值
func (c *AppConfig) ScanPolicy() scanner.Policy {
	return scanner.Policy{
		SuspiciousFloor: c.Policy.SuspiciousFloor,
		AllClearCeiling: c.Policy.AllClearCeiling,
	}
}
