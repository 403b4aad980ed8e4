package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 描述服务日志的级别、格式与输出位置。
// OutputPaths 的元素可以是 stdout、stderr 或文件路径，为空时写 stderr。
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig 控制铸造与鉴权审计日志的滚动文件。
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// 审计文件滚动的默认值。
const (
	defaultAuditSizeMB  = 100
	defaultAuditBackups = 7
	defaultAuditAgeDays = 30
)

// registry 保存进程级的日志实例与需要在退出时关闭的文件。
type registry struct {
	once    sync.Once
	initErr error

	mu      sync.Mutex
	base    *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var global registry

func (r *registry) track(c io.Closer) {
	r.mu.Lock()
	r.closers = append(r.closers, c)
	r.mu.Unlock()
}

// Init 按配置创建全局日志，只有第一次调用生效。
func Init(cfg Config) error {
	global.once.Do(func() {
		level := parseLevel(cfg.Level)
		out, err := openOutputs(cfg.OutputPaths)
		if err != nil {
			global.initErr = err
			return
		}
		opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

		var handler slog.Handler = slog.NewJSONHandler(out, opts)
		if strings.EqualFold(cfg.Format, "text") {
			handler = slog.NewTextHandler(out, opts)
		}
		base := slog.New(handler)

		audit := base
		if cfg.Audit.Enabled {
			if audit, err = buildAuditLogger(cfg.Audit); err != nil {
				global.initErr = err
				return
			}
		}

		global.mu.Lock()
		global.base, global.audit = base, audit
		global.mu.Unlock()
	})
	if global.initErr != nil {
		return global.initErr
	}
	if current() == nil {
		return errors.New("logger already initialised")
	}
	return nil
}

// openOutputs 打开全部输出并合并为一个 writer。
func openOutputs(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stderr, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, p := range paths {
		w, err := openOutput(p)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func openOutput(path string) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(path)) {
	case "stdout":
		return os.Stdout, nil
	case "stderr", "":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件 %s 失败: %w", path, err)
	}
	global.track(f)
	return f, nil
}

// buildAuditLogger 创建写入滚动文件的 JSON 审计日志。
func buildAuditLogger(cfg AuditConfig) (*slog.Logger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("启用审计日志时必须配置路径")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("创建审计日志目录失败: %w", err)
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, defaultAuditSizeMB),
		MaxBackups: orDefault(cfg.MaxBackups, defaultAuditBackups),
		MaxAge:     orDefault(cfg.MaxAgeDays, defaultAuditAgeDays),
	}
	global.track(rotating)
	return slog.New(slog.NewJSONHandler(rotating, &slog.HandlerOptions{Level: slog.LevelInfo})), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseLevel 接受 slog 的级别名与 warning，无法识别时返回 info。
func parseLevel(level string) slog.Level {
	level = strings.TrimSpace(level)
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func current() *slog.Logger {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.base
}

// L 返回全局日志，未初始化时使用默认配置。
func L() *slog.Logger {
	if l := current(); l != nil {
		return l
	}
	_ = Init(Config{})
	if l := current(); l != nil {
		return l
	}
	return slog.Default()
}

// Audit 返回审计日志，未单独配置时与全局日志相同。
func Audit() *slog.Logger {
	global.mu.Lock()
	audit := global.audit
	global.mu.Unlock()
	if audit == nil {
		return L()
	}
	return audit
}

// Named 返回带 component 字段的子日志。
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync 关闭日志文件与审计滚动文件。
func Sync() error {
	global.mu.Lock()
	closers := global.closers
	global.closers = nil
	global.mu.Unlock()

	var err error
	for _, c := range closers {
		err = errors.Join(err, c.Close())
	}
	return err
}
