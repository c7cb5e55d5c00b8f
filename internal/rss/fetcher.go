package rss

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iabetor/rssmcp/internal/config"
	"github.com/iabetor/rssmcp/internal/logger"
	"github.com/mmcdole/gofeed"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultUserAgent    = "rssmcp/1.0 RSS Reader"
)

// FetcherOptions 抓取参数，零值使用默认值。
type FetcherOptions struct {
	Timeout   time.Duration
	UserAgent string
	// Client 为空时按 Timeout 创建。
	Client *http.Client
	// Now 用于生成缺失的发布时间，测试中可替换。
	Now func() time.Time
}

// Fetcher 依次抓取配置的订阅源，按标签过滤后写入 Store。
type Fetcher struct {
	mu        sync.RWMutex
	feeds     []config.Feed
	store     Store
	parser    *gofeed.Parser
	client    *http.Client
	userAgent string
	now       func() time.Time
}

// FeedOutcome 单个订阅源一次抓取的结果。
type FeedOutcome struct {
	URL        string `json:"url"`
	Fetched    int    `json:"fetched"`
	Matched    int    `json:"matched"`
	New        int    `json:"new"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	Error      string `json:"error,omitempty"`
}

// Failed 报告该订阅源是否抓取或解析失败。
func (o FeedOutcome) Failed() bool { return o.Error != "" }

// Report 一轮抓取的汇总。
type Report struct {
	CycleID    string        `json:"cycle_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Feeds      []FeedOutcome `json:"feeds"`
	Matched    int           `json:"matched"`
	New        int           `json:"new"`
	Failed     int           `json:"failed"`
}

func (r *Report) add(o FeedOutcome) {
	r.Feeds = append(r.Feeds, o)
	r.Matched += o.Matched
	r.New += o.New
	if o.Failed() {
		r.Failed++
	}
}

// NewFetcher 创建抓取器，feeds 在构造时显式传入。
func NewFetcher(store Store, feeds []config.Feed, opts FetcherOptions) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	f := &Fetcher{
		store:     store,
		parser:    gofeed.NewParser(),
		client:    client,
		userAgent: ua,
		now:       now,
	}
	f.Reload(feeds)
	return f
}

// Reload 替换订阅源配置，正在进行的抓取不受影响。
func (f *Fetcher) Reload(feeds []config.Feed) {
	cp := make([]config.Feed, len(feeds))
	copy(cp, feeds)

	f.mu.Lock()
	f.feeds = cp
	f.mu.Unlock()
	logger.Infof("[rss] 已加载 %d 个订阅源", len(cp))
}

// Feeds 返回当前订阅源配置的副本。
func (f *Fetcher) Feeds() []config.Feed {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cp := make([]config.Feed, len(f.feeds))
	copy(cp, f.feeds)
	return cp
}

// Run 抓取全部订阅源。单个订阅源失败只记录在报告中，
// Store 写入失败则中止本轮并连同已完成部分的报告一起返回。
func (f *Fetcher) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		CycleID:   uuid.NewString(),
		StartedAt: f.now(),
		Feeds:     make([]FeedOutcome, 0),
	}
	log := logger.With("cycle", report.CycleID)
	log.Infof("[rss] 开始抓取 %d 个订阅源", len(f.Feeds()))

	for _, fd := range f.Feeds() {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = f.now()
			return report, err
		}

		outcome, err := f.runFeed(ctx, fd)
		report.add(outcome)
		if err != nil {
			report.FinishedAt = f.now()
			return report, err
		}
		if outcome.Failed() {
			log.Warnf("[rss] 订阅源 %s 抓取失败: %s", fd.URL, outcome.Error)
			continue
		}
		log.Infof("[rss] 订阅源 %s → 匹配 %d 条，新增 %d 条", fd.URL, outcome.Matched, outcome.New)
	}

	report.FinishedAt = f.now()
	return report, nil
}

// runFeed 处理单个订阅源。返回的 error 只表示存储失败。
func (f *Fetcher) runFeed(ctx context.Context, fd config.Feed) (FeedOutcome, error) {
	outcome := FeedOutcome{URL: fd.URL}

	feed, err := f.parseFeed(ctx, fd.URL)
	if err != nil {
		outcome.Error = err.Error()
		return outcome, nil
	}
	outcome.Fetched = len(feed.Items)

	fetchedAt := f.now()
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		if !MatchTags(MatchText(item.Title, item.Description), fd.Tags) {
			continue
		}
		outcome.Matched++

		if item.Link == "" {
			outcome.Skipped++
			continue
		}

		entry := NewEntry(item.Title, item.Description, item.Link, publishedOf(item), fd, fetchedAt)
		inserted, err := f.store.InsertIfUnseen(entry)
		if err != nil {
			return outcome, fmt.Errorf("保存条目 %s 失败: %w", entry.Link, err)
		}
		if inserted {
			outcome.New++
			logger.Debugf("[rss] [MATCH] 已保存: %s | ID: %s", entry.Title, entry.ID)
		} else {
			outcome.Duplicates++
		}
	}
	return outcome, nil
}

// parseFeed 请求并解析订阅源 URL。
func (f *Fetcher) parseFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return f.parser.Parse(resp.Body)
}

// publishedOf 优先使用解析后的发布时间，其次是原始字符串，最后是更新时间。
func publishedOf(item *gofeed.Item) string {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC().Format(time.RFC3339)
	case item.Published != "":
		return item.Published
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC().Format(time.RFC3339)
	default:
		return item.Updated
	}
}
