package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"CertVerify-Chain/internal/app"
	"CertVerify-Chain/internal/config"
	"CertVerify-Chain/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "certctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "certctl",
		Usage: "University certificate management agent and tooling",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the JSON configuration file",
				EnvVars: []string{config.EnvConfigPath},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level",
			},
		},
		Action: chatAction,
		Commands: []*cli.Command{
			chatCommand(),
			digestCommand(),
			certificateCommand(),
			mcpCommand(),
			tokenCommand(),
			eventsCommand(),
		},
	}
}

// loadConfig 读取 .env 与配置文件，并初始化日志。
// 日志固定写到 stderr，stdout 留给对话输出与 MCP 协议流。
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	var (
		cfg *config.Config
		err error
	)
	if path := strings.TrimSpace(c.String("config")); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Resolve()
	}
	if err != nil {
		return nil, err
	}

	logCfg := app.LoggerConfig(cfg.Logging)
	if level := c.String("log-level"); level != "" {
		logCfg.Level = level
	}
	logCfg.OutputPaths = []string{"stderr"}
	if err := logger.Init(logCfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildApp 装配运行命令所需的组件。
func buildApp(c *cli.Context, opts ...app.Option) (*app.App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return app.Build(c.Context, cfg, opts...)
}
