// Package app 根据配置组装存储、抓取器、工具注册表以及两种对外接口。
package app

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/iabetor/rssmcp/internal/config"
	"github.com/iabetor/rssmcp/internal/database"
	"github.com/iabetor/rssmcp/internal/logger"
	"github.com/iabetor/rssmcp/internal/mcp"
	"github.com/iabetor/rssmcp/internal/rss"
	"github.com/iabetor/rssmcp/internal/server"
	"github.com/iabetor/rssmcp/internal/tools"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// App 持有一个进程内共享的全部组件。
type App struct {
	cfg *config.Config

	store    rss.Store
	service  *rss.Service
	registry *tools.Registry
}

// New 根据配置创建 App。订阅源文件缺失或无效时回退到内置默认订阅源。
func New(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	feeds, err := a.LoadFeeds()
	if err != nil {
		logger.Warnf("[app] %v，使用默认订阅源", err)
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	fetcher := rss.NewFetcher(a.store, feeds, rss.FetcherOptions{
		Timeout:   time.Duration(cfg.Fetch.Timeout) * time.Second,
		UserAgent: cfg.Fetch.UserAgent,
	})
	a.service = rss.NewService(fetcher, a.store)

	a.registry = tools.NewRegistry()
	tools.RegisterRSSTools(a.registry, a.service)

	logger.Infof("[app] 已加载 %d 个订阅源，状态存储 %s (%s)，%d 个工具",
		len(feeds), cfg.State.Path, cfg.State.Backend, a.registry.Count())
	return a, nil
}

func (a *App) openStore() error {
	switch a.cfg.State.Backend {
	case config.BackendSQLite:
		db, err := database.Open(a.cfg.State.Path)
		if err != nil {
			return fmt.Errorf("打开状态数据库失败: %w", err)
		}
		store, err := rss.NewSQLStore(db)
		if err != nil {
			db.Close()
			return fmt.Errorf("初始化状态数据库失败: %w", err)
		}
		a.store = store
	default:
		store, err := rss.NewFileStore(a.cfg.State.Path)
		if err != nil {
			return fmt.Errorf("初始化状态文件失败: %w", err)
		}
		a.store = store
	}
	return nil
}

// LoadFeeds 重新读取订阅源文件。出错时仍返回默认订阅源。
func (a *App) LoadFeeds() ([]config.Feed, error) {
	return config.LoadFeeds(a.cfg.FeedsFile)
}

// Service 返回共享的访问层。
func (a *App) Service() *rss.Service { return a.service }

// Registry 返回工具注册表。
func (a *App) Registry() *tools.Registry { return a.registry }

// HTTP 返回 HTTP 接口。
func (a *App) HTTP() *fiber.App {
	return server.New(server.Config{
		Service:   a.service,
		Registry:  a.registry,
		LoadFeeds: a.LoadFeeds,
	})
}

// MCP 返回 MCP 接口。
func (a *App) MCP() *mcpserver.MCPServer {
	return mcp.NewServer(a.registry, a.service)
}

// Close 释放存储，SQLite 后端会一并关闭数据库连接。
func (a *App) Close() {
	logger.Info("[app] 正在关闭...")
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("[app] 关闭存储失败: %v", err)
		}
	}
	logger.Info("[app] 已关闭")
}
