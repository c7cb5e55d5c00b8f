package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iabetor/rssmcp/internal/rss"
)

const defaultUnreadLimit = 50

// RegisterRSSTools 注册全部 RSS 工具。
func RegisterRSSTools(r *Registry, svc *rss.Service) {
	r.Register(NewUpdateFeedsTool(svc))
	r.Register(NewGetUnreadTool(svc))
	r.Register(NewMarkReadTool(svc))
	r.Register(NewSearchTool(svc))
}

// parseArgs 解析工具参数，空参数视为 {}。
func parseArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("参数解析失败: %w", err)
	}
	return nil
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化结果失败: %w", err)
	}
	return string(data), nil
}

// ---- UpdateFeedsTool ----

// UpdateFeedsTool 抓取所有订阅源。
type UpdateFeedsTool struct {
	svc *rss.Service
}

// NewUpdateFeedsTool 创建抓取工具。
func NewUpdateFeedsTool(svc *rss.Service) *UpdateFeedsTool {
	return &UpdateFeedsTool{svc: svc}
}

func (t *UpdateFeedsTool) Name() string { return "update_rss_feeds" }
func (t *UpdateFeedsTool) Description() string {
	return "Fetch latest articles from all configured RSS feeds"
}
func (t *UpdateFeedsTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{},"required":[]}`)
}

func (t *UpdateFeedsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	report, err := t.svc.Update(ctx)
	if err != nil {
		return "", fmt.Errorf("更新订阅源失败: %w", err)
	}
	return fmt.Sprintf("RSS feeds updated successfully (%d feeds, %d matched, %d new, %d failed)",
		len(report.Feeds), report.Matched, report.New, report.Failed), nil
}

// ---- GetUnreadTool ----

// GetUnreadTool 返回未读条目。
type GetUnreadTool struct {
	svc *rss.Service
}

// NewGetUnreadTool 创建未读查询工具。
func NewGetUnreadTool(svc *rss.Service) *GetUnreadTool {
	return &GetUnreadTool{svc: svc}
}

func (t *GetUnreadTool) Name() string        { return "get_unread_articles" }
func (t *GetUnreadTool) Description() string {
	return "Get unread articles from the stored state. Feeds are not fetched unless refresh is true; call update_rss_feeds to fetch separately"
}
func (t *GetUnreadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"limit": {
				"type": "integer",
				"description": "Maximum number of articles to return",
				"default": 50
			},
			"refresh": {
				"type": "boolean",
				"description": "Fetch all feeds before listing unread articles (default false: list stored state only)",
				"default": false
			}
		},
		"required": []
	}`)
}

// unreadResult 未读查询的返回结构。
type unreadResult struct {
	Count    int         `json:"count"`
	Articles []rss.Entry `json:"articles"`
}

func (t *GetUnreadTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Limit   *int `json:"limit"`
		Refresh bool `json:"refresh"`
	}
	if err := parseArgs(args, &params); err != nil {
		return "", err
	}

	limit := defaultUnreadLimit
	if params.Limit != nil && *params.Limit > 0 {
		limit = *params.Limit
	}

	if params.Refresh {
		if _, err := t.svc.Update(ctx); err != nil {
			return "", fmt.Errorf("更新订阅源失败: %w", err)
		}
	}

	articles, err := t.svc.Unread(limit)
	if err != nil {
		return "", fmt.Errorf("读取未读条目失败: %w", err)
	}
	return toJSON(unreadResult{Count: len(articles), Articles: articles})
}

// ---- MarkReadTool ----

// MarkReadTool 标记已读。
type MarkReadTool struct {
	svc *rss.Service
}

// NewMarkReadTool 创建标记已读工具。
func NewMarkReadTool(svc *rss.Service) *MarkReadTool {
	return &MarkReadTool{svc: svc}
}

func (t *MarkReadTool) Name() string        { return "mark_articles_read" }
func (t *MarkReadTool) Description() string { return "Mark articles as read" }
func (t *MarkReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"article_ids": {
				"type": "array",
				"items": {"type": "string"},
				"description": "List of article IDs to mark as read. If empty, marks all as read."
			}
		},
		"required": []
	}`)
}

func (t *MarkReadTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		ArticleIDs []string `json:"article_ids"`
	}
	if err := parseArgs(args, &params); err != nil {
		return "", err
	}

	if len(params.ArticleIDs) == 0 {
		if _, err := t.svc.MarkAllRead(); err != nil {
			return "", fmt.Errorf("标记已读失败: %w", err)
		}
		return "Marked all articles as read", nil
	}

	if _, err := t.svc.MarkRead(params.ArticleIDs); err != nil {
		return "", fmt.Errorf("标记已读失败: %w", err)
	}
	return fmt.Sprintf("Marked %d articles as read", len(params.ArticleIDs)), nil
}

// ---- SearchTool ----

// SearchTool 按关键词和标签搜索条目。
type SearchTool struct {
	svc *rss.Service
}

// NewSearchTool 创建搜索工具。
func NewSearchTool(svc *rss.Service) *SearchTool {
	return &SearchTool{svc: svc}
}

func (t *SearchTool) Name() string { return "search_articles" }
func (t *SearchTool) Description() string {
	return "Search articles by keywords in title or content"
}
func (t *SearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "Search query keywords"
			},
			"tags": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Filter by specific tags"
			}
		},
		"required": ["query"]
	}`)
}

func (t *SearchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query *string  `json:"query"`
		Tags  []string `json:"tags"`
	}
	if err := parseArgs(args, &params); err != nil {
		return "", err
	}
	if params.Query == nil {
		return "", errors.New("缺少 query 参数")
	}

	results, err := t.svc.Search(strings.TrimSpace(*params.Query), params.Tags)
	if err != nil {
		return "", fmt.Errorf("搜索失败: %w", err)
	}
	return toJSON(results)
}
