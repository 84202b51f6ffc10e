package bootstrap

import (
	"fmt"
	"os"
	"strings"

	"github.com/AmoolyaSuneja/ChatMe/pkg/config"
	"github.com/AmoolyaSuneja/ChatMe/pkg/logger"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// LogConfigInfo Print global configuration information
func LogConfigInfo() {
	cfg := config.GlobalConfig
	logger.Info("system config load finished")

	logger.Info("server config",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("mode", cfg.Mode),
		zap.Duration("read_timeout", cfg.Server.ReadTimeout),
		zap.Duration("write_timeout", cfg.Server.WriteTimeout),
		zap.Duration("idle_timeout", cfg.Server.IdleTimeout),
	)

	logger.Info("relay config",
		zap.Int64("max_message_bytes", cfg.Relay.MaxMessageBytes),
		zap.Int("send_queue_size", cfg.Relay.SendQueueSize),
		zap.Duration("write_wait", cfg.Relay.WriteWait),
		zap.Duration("pong_wait", cfg.Relay.PongWait),
		zap.String("static_root", cfg.Relay.StaticRoot),
	)

	logger.Info("log config",
		zap.String("log_level", cfg.Log.Level),
		zap.String("log_filename", cfg.Log.Filename),
		zap.Int("log_max_size", cfg.Log.MaxSize),
		zap.Int("log_max_age", cfg.Log.MaxAge),
		zap.Int("log_max_backups", cfg.Log.MaxBackups),
	)

	LogHostInfo()
}

// LogHostInfo logs the machine the process runs on. Probe failures are
// reported at debug level only.
func LogHostInfo() {
	fields := make([]zap.Field, 0, 6)
	if info, err := host.Info(); err == nil {
		fields = append(fields,
			zap.String("hostname", info.Hostname),
			zap.String("platform", info.Platform+" "+info.PlatformVersion),
			zap.String("kernel", info.KernelVersion),
		)
	} else {
		logger.Debug("host info unavailable", zap.Error(err))
	}
	if n, err := cpu.Counts(true); err == nil {
		fields = append(fields, zap.Int("cpus", n))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields = append(fields,
			zap.Uint64("mem_total_mb", vm.Total>>20),
			zap.Float64("mem_used_percent", vm.UsedPercent),
		)
	}
	logger.Info("host info", fields...)
}

// EnsureBannerFile writes defaultText to filename when the file is missing.
func EnsureBannerFile(filename string, defaultText string) error {
	if _, err := os.Stat(filename); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(filename, []byte(defaultText+"\n"), 0o644)
}

// PrintBannerFromFile Read file and print, auto-generate if file doesn't exist
func PrintBannerFromFile(filename string, defaultText string) error {
	if err := EnsureBannerFile(filename, defaultText); err != nil {
		return fmt.Errorf("failed to ensure banner file: %w", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	colors := []string{
		"\x1b[38;5;45m",
		"\x1b[38;5;51m",
		"\x1b[38;5;87m",
		"\x1b[38;5;123m",
		"\x1b[38;5;159m",
		"\x1b[38;5;195m",
	}

	for i, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fmt.Println(colors[i%len(colors)] + line + "\x1b[0m")
	}
	return nil
}
