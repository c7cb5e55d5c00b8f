// Package server 提供 RSS 状态的 HTTP 接口。
package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/iabetor/rssmcp/internal/config"
	"github.com/iabetor/rssmcp/internal/logger"
	"github.com/iabetor/rssmcp/internal/rss"
	"github.com/iabetor/rssmcp/internal/tools"
	"go.uber.org/zap"
)

// Config HTTP 服务依赖。
type Config struct {
	Service  *rss.Service
	Registry *tools.Registry
	// LoadFeeds 重新读取订阅源配置，为空时 /rss/reload 返回 501。
	LoadFeeds func() ([]config.Feed, error)
}

type handler struct {
	svc       *rss.Service
	reg       *tools.Registry
	loadFeeds func() ([]config.Feed, error)
}

// New 返回配置好路由的 fiber.App。
func New(cfg Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "rssmcp",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(accessLog)

	h := &handler{svc: cfg.Service, reg: cfg.Registry, loadFeeds: cfg.LoadFeeds}

	app.Get("/status", h.status)

	r := app.Group("/rss")
	r.Get("/unread", h.unread)
	r.Get("/all", h.all)
	r.Get("/search", h.search)
	r.Get("/entries/:id", h.entryState)
	r.Post("/update", h.update)
	r.Post("/mark-read", h.markRead)
	r.Post("/reload", h.reload)

	app.Get("/tools", h.listTools)
	app.Post("/tools/:name", h.callTool)

	return app
}

// accessLog 记录每个请求的方法、路径、状态码和耗时。
func accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else {
			status = fiber.StatusInternalServerError
		}
	}
	logger.Z.Info("[server] 请求",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("latency", time.Since(start)),
		zap.Any("request_id", c.Locals("requestid")),
	)
	return err
}

// errorHandler 统一返回 JSON 错误。
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		logger.Errorf("[server] %s %s 失败: %v", c.Method(), c.Path(), err)
	}
	return c.Status(code).JSON(fiber.Map{"status": "error", "error": err.Error()})
}

func (h *handler) status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "OK"})
}

func (h *handler) unread(c *fiber.Ctx) error {
	entries, err := h.svc.Unread(c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

func (h *handler) all(c *fiber.Ctx) error {
	entries, err := h.svc.All()
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

func (h *handler) search(c *fiber.Ctx) error {
	var tags []string
	for _, raw := range c.Context().QueryArgs().PeekMulti("tag") {
		for _, t := range strings.Split(string(raw), ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	entries, err := h.svc.Search(c.Query("q"), tags)
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

func (h *handler) entryState(c *fiber.Ctx) error {
	id := c.Params("id")
	state, err := h.svc.State(id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": id, "state": state.String()})
}

func (h *handler) update(c *fiber.Ctx) error {
	report, err := h.svc.Update(c.UserContext())
	if err != nil {
		logger.Errorf("[server] 更新订阅源失败: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error",
			"error":  err.Error(),
			"report": report,
		})
	}
	return c.JSON(fiber.Map{"status": "updated", "report": report})
}

// markReadRequest 可选的请求体，ids 为空时标记全部。
type markReadRequest struct {
	IDs []string `json:"ids"`
}

func (h *handler) markRead(c *fiber.Ctx) error {
	var req markReadRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "请求体格式错误: "+err.Error())
		}
	}

	var (
		n   int
		err error
	)
	if len(req.IDs) == 0 {
		n, err = h.svc.MarkAllRead()
	} else {
		n, err = h.svc.MarkRead(req.IDs)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "marked read", "count": n})
}

func (h *handler) reload(c *fiber.Ctx) error {
	if h.loadFeeds == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "未配置订阅源加载")
	}
	feeds, err := h.loadFeeds()
	if err != nil {
		// 回退到默认订阅源，仍然生效
		logger.Warnf("[server] %v，使用默认订阅源", err)
	}
	h.svc.Reload(feeds)
	return c.JSON(fiber.Map{"status": "reloaded", "feeds": len(feeds)})
}

func (h *handler) listTools(c *fiber.Ctx) error {
	return c.JSON(h.reg.Definitions())
}

func (h *handler) callTool(c *fiber.Ctx) error {
	name := c.Params("name")
	result, err := h.reg.Execute(c.UserContext(), name, c.Body())
	if err != nil {
		code := fiber.StatusUnprocessableEntity
		if errors.Is(err, tools.ErrUnknownTool) {
			code = fiber.StatusNotFound
		}
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"result": result})
}
