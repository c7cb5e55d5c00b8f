package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iabetor/rssmcp/internal/app"
	"github.com/iabetor/rssmcp/internal/config"
	"github.com/iabetor/rssmcp/internal/logger"
	"github.com/iabetor/rssmcp/internal/mcp"
	"github.com/urfave/cli/v2"
)

func rootApp() *cli.App {
	return &cli.App{
		Name:  "rssmcp",
		Usage: "Tag-filtered RSS reader with an HTTP API and an MCP tool server",
		Description: `rssmcp fetches the configured RSS/Atom feeds, keeps the entries whose
		title or summary mentions one of the feed's tags, and remembers which of
		them have been read.

		Flags can be set via environment variables, e.g.:

		--config => RSSMCP_CONFIG=configs/rssmcp.yaml`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/rssmcp.yaml",
				Usage:   "配置文件路径，不存在时使用默认配置",
				EnvVars: []string{"RSSMCP_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			mcpCmd(),
			updateCmd(),
			unreadCmd(),
			markReadCmd(),
		},
		Action: func(ctx *cli.Context) error {
			return cli.ShowAppHelp(ctx)
		},
	}
}

// loadConfig 读取配置并初始化日志。配置文件不存在时使用默认值。
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	path := ctx.String("config")
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

// withApp 加载配置、组装 App，执行 fn 后关闭。
func withApp(ctx *cli.Context, fn func(a *app.App, cfg *config.Config) error) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, cfg)
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "监听地址，覆盖配置文件中的 server.addr",
				EnvVars: []string{"RSSMCP_ADDR"},
			},
		},
		Action: func(ctx *cli.Context) error {
			return withApp(ctx, func(a *app.App, cfg *config.Config) error {
				addr := cfg.Server.Addr
				if ctx.IsSet("addr") {
					addr = ctx.String("addr")
				}

				srv := a.HTTP()

				// 监听系统信号，优雅关闭
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				defer signal.Stop(sigCh)
				go func() {
					sig, ok := <-sigCh
					if !ok {
						return
					}
					logger.Infof("[main] 收到信号 %v，正在关闭...", sig)
					if err := srv.ShutdownWithTimeout(10 * time.Second); err != nil {
						logger.Warnf("[main] 关闭 HTTP 服务失败: %v", err)
					}
				}()

				logger.Infof("[main] HTTP 服务监听 %s", addr)
				if err := srv.Listen(addr); err != nil {
					return fmt.Errorf("HTTP 服务出错: %w", err)
				}
				logger.Info("[main] HTTP 服务已停止")
				return nil
			})
		},
	}
}

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the MCP tools over stdio",
		Action: func(ctx *cli.Context) error {
			return withApp(ctx, func(a *app.App, _ *config.Config) error {
				return mcp.Serve(a.MCP())
			})
		},
	}
}

func updateCmd() *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "Run one fetch cycle and print the report",
		Action: func(ctx *cli.Context) error {
			return withApp(ctx, func(a *app.App, _ *config.Config) error {
				runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				report, err := a.Service().Update(runCtx)
				if report != nil {
					if perr := printJSON(report); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func unreadCmd() *cli.Command {
	return &cli.Command{
		Name:  "unread",
		Usage: "Print unread entries as JSON",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "最多输出条数，0 表示全部",
			},
		},
		Action: func(ctx *cli.Context) error {
			return withApp(ctx, func(a *app.App, _ *config.Config) error {
				entries, err := a.Service().Unread(ctx.Int("limit"))
				if err != nil {
					return err
				}
				return printJSON(entries)
			})
		},
	}
}

func markReadCmd() *cli.Command {
	return &cli.Command{
		Name:      "mark-read",
		Usage:     "Mark the given entry ids as read, or every stored entry when none are given",
		ArgsUsage: "[id...]",
		Action: func(ctx *cli.Context) error {
			return withApp(ctx, func(a *app.App, _ *config.Config) error {
				var (
					n   int
					err error
				)
				if ids := ctx.Args().Slice(); len(ids) > 0 {
					n, err = a.Service().MarkRead(ids)
				} else {
					n, err = a.Service().MarkAllRead()
				}
				if err != nil {
					return err
				}
				fmt.Printf("marked %d entries as read\n", n)
				return nil
			})
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
