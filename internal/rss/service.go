package rss

import (
	"context"
	"strings"

	"github.com/iabetor/rssmcp/internal/config"
	"github.com/samber/lo"
)

// Service 是 HTTP 和工具层共用的访问入口。
type Service struct {
	fetcher *Fetcher
	store   Store
}

// NewService 创建访问层。
func NewService(fetcher *Fetcher, store Store) *Service {
	return &Service{fetcher: fetcher, store: store}
}

// Update 执行一轮抓取。
func (s *Service) Update(ctx context.Context) (*Report, error) {
	return s.fetcher.Run(ctx)
}

// Unread 返回未读条目，limit <= 0 表示不限制。
func (s *Service) Unread(limit int) ([]Entry, error) {
	entries, err := s.store.Unread()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// All 返回全部已入库条目。
func (s *Service) All() ([]Entry, error) {
	return s.store.All()
}

// MarkAllRead 将当前全部条目标记为已读。
func (s *Service) MarkAllRead() (int, error) {
	return s.store.MarkAllRead()
}

// MarkRead 将指定条目标记为已读。
func (s *Service) MarkRead(ids []string) (int, error) {
	return s.store.MarkRead(ids...)
}

// State 查询单个条目的状态。
func (s *Service) State(id string) (EntryState, error) {
	return s.store.State(id)
}

// Search 在全部已入库条目中搜索。
// query 对标题和摘要做不区分大小写的子串匹配，空 query 匹配所有条目；
// tags 非空时还要求条目的订阅源标签中包含其中任意一个（不区分大小写）。
func (s *Service) Search(query string, tags []string) ([]Entry, error) {
	entries, err := s.store.All()
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	wanted := lo.Compact(lo.Map(tags, func(t string, _ int) string {
		return strings.ToLower(strings.TrimSpace(t))
	}))

	return lo.Filter(entries, func(e Entry, _ int) bool {
		if q != "" && !strings.Contains(strings.ToLower(e.Title+" "+e.Summary), q) {
			return false
		}
		if len(wanted) == 0 {
			return true
		}
		return lo.SomeBy(e.MatchedTags, func(t string) bool {
			return lo.Contains(wanted, strings.ToLower(t))
		})
	}), nil
}

// Feeds 返回当前订阅源配置。
func (s *Service) Feeds() []config.Feed {
	return s.fetcher.Feeds()
}

// Reload 替换订阅源配置。
func (s *Service) Reload(feeds []config.Feed) {
	s.fetcher.Reload(feeds)
}
