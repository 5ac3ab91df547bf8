package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Hara602/usbHeuristic/internal/analysis"
	"github.com/Hara602/usbHeuristic/internal/config"
	"github.com/Hara602/usbHeuristic/internal/monitor"
	"github.com/Hara602/usbHeuristic/internal/scanner"
	"github.com/Hara602/usbHeuristic/internal/sysutil"
	"github.com/Hara602/usbHeuristic/internal/watcher"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version = "1.0.0"
	appName = "usb-heuristic"

	configPath string
	envFile    string

	colorRed = color.New(color.FgRed, color.Bold)
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		colorRed.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "U 盘挂载监控与启发式可疑度评分",
	Long: `监听挂载目录，新设备挂载后统计文件特征并给出 0-100 的可疑度评分。

示例:
  # 监控 /media/usb 的父目录，新插入的设备自动扫描
  usb-heuristic --path /media/usb

  # 同时监听 udev 热插拔，每 10 分钟重扫一次
  usb-heuristic --udev --rescan 10m

  # 只扫描一次
  usb-heuristic scan /media/usb`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runWatch,
}

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "对一个目录执行一次扫描",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScan,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "配置文件路径 (yaml/json/toml)")
	pf.StringVar(&envFile, "env-file", ".env", "启动前加载的环境变量文件")
	pf.StringP("path", "p", "", "监控的挂载点")
	pf.String("log-level", "", "日志级别: debug, info, warn, error")
	pf.String("model", "", "评分模型: iforest, centroid")

	f := rootCmd.Flags()
	f.String("mode", "", "目录监听方式: auto, inotify, poll")
	f.Duration("settle", 0, "收到挂载事件后等待的时间")
	f.Duration("rescan", 0, "定时重扫挂载点，0 关闭")
	f.Bool("udev", false, "额外监听 udev 热插拔 (Linux)")

	rootCmd.AddCommand(scanCmd)
}

// setup 加载配置并初始化日志和扫描组件
func setup(cmd *cobra.Command) (*config.AppConfig, *scanner.Coordinator, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("load env file: %w", err)
	}

	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if err := sysutil.InitLogger(cfg.Agent.LogLevel); err != nil {
		return nil, nil, err
	}

	scorer, err := analysis.NewScorer(cfg.ScorerConfig())
	if err != nil {
		return nil, nil, err
	}
	classifier := analysis.NewClassifier(cfg.Classifier.Ignore, cfg.Classifier.SizeThreshold)
	policy := cfg.ScanPolicy()
	coord := scanner.New(scorer, classifier, scanner.NewConsoleReporter(os.Stdout, policy), policy)
	return cfg, coord, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, coord, err := setup(cmd)
	if err != nil {
		return err
	}
	defer sysutil.Log.Sync()

	target := cfg.Agent.TargetPath
	if len(args) == 1 {
		target = args[0]
	}
	_, err = coord.Scan(target)
	return err
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, coord, err := setup(cmd)
	if err != nil {
		return err
	}
	defer sysutil.Log.Sync()

	sysutil.Log.Info("🛡️ USB Heuristic Agent Starting...",
		zap.String("target", cfg.Agent.TargetPath),
		zap.String("model", cfg.Scoring.Model),
		zap.String("mode", cfg.Monitor.Mode))

	// 新设备挂载为目标挂载点父目录下的新目录
	dirWatcher, err := watcher.NewDirWatcher(watcher.DirOptions{
		Dir:          filepath.Dir(filepath.Clean(cfg.Agent.TargetPath)),
		Mode:         cfg.Monitor.Mode,
		PollInterval: cfg.Monitor.PollInterval,
	})
	if err != nil {
		return err
	}
	sources := []watcher.Source{dirWatcher}
	if cfg.Monitor.Udev {
		if os.Geteuid() != 0 {
			sysutil.Log.Warn("udev monitoring usually requires root")
		}
		sources = append(sources, watcher.NewUdevWatcher(cfg.Monitor.MountTimeout))
	}

	mon := monitor.New(monitor.Options{
		Target:         cfg.Agent.TargetPath,
		SettleDelay:    cfg.Monitor.SettleDelay,
		RescanInterval: cfg.Monitor.RescanInterval,
	}, coord, sources...)

	// 捕获操作系统信号，优雅退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mon.Run(ctx); err != nil {
		return err
	}
	sysutil.Log.Info("Shutting down...")
	return nil
}
