package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"kioskguard/internal/config"
	"kioskguard/internal/logger"
	"kioskguard/internal/storage"
	"kioskguard/pkg/api"
	"kioskguard/pkg/model"

	"github.com/jessevdk/go-flags"
)

// Options 命令行参数，优先级高于配置文件
type Options struct {
	Config   string   `short:"c" long:"config" description:"YAML 配置文件路径"`
	DevTools string   `short:"d" long:"devtools" description:"DevTools HTTP 地址，如 http://127.0.0.1:9222"`
	Targets  []string `short:"t" long:"target" description:"要附加的页面目标 ID，可重复；为空时附加第一个页面"`
	LogLevel string   `short:"l" long:"log-level" description:"日志级别"`
}

// main 是 kioskguard 入口
func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "kioskguard:", err)
		os.Exit(1)
	}
}

func run(opts Options) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	applyOverrides(cfg, opts)

	l := logger.New(logger.Options{Level: cfg.Log.Level, Writers: cfg.Log.Writer, File: cfg.Log.File})

	journal, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l)
	if err != nil {
		return err
	}
	defer journal.Close()

	svc := api.NewService(l)
	id, err := svc.StartSession(model.SessionConfig{
		DevToolsURL: cfg.DevTools.URL,
		IdleTimeout: cfg.Idle.Timeout,
	})
	if err != nil {
		return err
	}
	defer svc.StopSession(id)

	targets := cfg.DevTools.Targets
	if len(targets) == 0 {
		targets = []string{""}
	}
	for _, t := range targets {
		if err := svc.AttachTarget(id, model.TargetID(t)); err != nil {
			return fmt.Errorf("附加目标 %q: %w", t, err)
		}
	}

	events, err := svc.SubscribeEvents(id)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l.Info("kioskguard 已启动", "devtools", cfg.DevTools.URL, "idleTimeout", cfg.Idle.Timeout.String())
	for {
		select {
		case <-ctx.Done():
			l.Info("收到退出信号")
			return nil
		case ev := <-events:
			logEvent(l, ev)
			if err := journal.Record(ctx, ev); err != nil {
				l.Err(err, "写入日志库失败", "type", ev.Type)
			}
			if ev.Type == model.EventDetached && len(attachedAfter(svc, id)) == 0 {
				return errors.New("所有目标均已断开")
			}
		}
	}
}

func applyOverrides(cfg *config.Config, opts Options) {
	if opts.DevTools != "" {
		cfg.DevTools.URL = opts.DevTools
	}
	if len(opts.Targets) > 0 {
		cfg.DevTools.Targets = opts.Targets
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
}

func attachedAfter(svc api.Service, id model.SessionID) []model.TargetInfo {
	list, err := svc.ListTargets(id)
	if err != nil {
		return nil
	}
	var out []model.TargetInfo
	for _, t := range list {
		if t.Attached {
			out = append(out, t)
		}
	}
	return out
}

func logEvent(l logger.Logger, ev model.Event) {
	switch ev.Type {
	case model.EventRedirected:
		l.Info("空闲跳转", "target", string(ev.Target), "path", ev.Path)
	case model.EventLoaded:
		l.Info("页面加载", "target", string(ev.Target), "url", ev.URL, "panels", ev.Panels, "bound", ev.Bound, "idle", ev.Idle)
	case model.EventDetached:
		l.Warn("目标已分离", "target", string(ev.Target), "error", ev.Error)
	default:
		l.Debug("会话事件", "type", ev.Type, "target", string(ev.Target), "action", ev.Action)
	}
}
