package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iabetor/rssmcp/internal/config"
)

const testRSSFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>GNSS Blog</title>
    <link>https://example.com</link>
    <description>A test RSS feed</description>
    <item>
      <title>New GNSS Receiver</title>
      <link>https://example.com/post/1</link>
      <description>A compact multi-band receiver.</description>
      <pubDate>Thu, 19 Feb 2026 08:00:00 +0800</pubDate>
    </item>
    <item>
      <title>Weekly roundup</title>
      <link>https://example.com/post/2</link>
      <description>Spoofing and jamming incidents over the Baltic.</description>
    </item>
    <item>
      <title>Cooking with cast iron</title>
      <link>https://example.com/post/3</link>
      <description>Nothing to see here.</description>
    </item>
  </channel>
</rss>`

const testAtomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Blog</title>
  <entry>
    <title>Alt-PNT testing at sea</title>
    <link href="https://example.com/atom/1"/>
    <summary>Trials of LEO based timing.</summary>
    <updated>2026-02-19T09:00:00+08:00</updated>
  </entry>
</feed>`

const pntFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>PNT</title>
    <item>
      <title>PNT update</title>
      <link>http://x/1</link>
    </item>
  </channel>
</rss>`

func setupTestServer(content string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, content)
	}))
}

var fixedNow = time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

func newTestFetcher(t *testing.T, feeds []config.Feed) (*Fetcher, Store) {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore 失败: %v", err)
	}
	f := NewFetcher(store, feeds, FetcherOptions{
		Timeout: 5 * time.Second,
		Now:     func() time.Time { return fixedNow },
	})
	return f, store
}

func TestFetcherScenario(t *testing.T) {
	srv := setupTestServer(pntFeed)
	defer srv.Close()

	f, store := newTestFetcher(t, []config.Feed{{URL: srv.URL, Tags: []string{"PNT"}}})

	report, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run 失败: %v", err)
	}
	if report.New != 1 || report.Matched != 1 {
		t.Errorf("报告不匹配: %+v", report)
	}
	if report.CycleID == "" {
		t.Error("CycleID 不应为空")
	}

	unread := mustUnread(t, store)
	if len(unread) != 1 {
		t.Fatalf("期望 1 条未读，得到 %d 条", len(unread))
	}
	e := unread[0]
	if e.ID != Fingerprint("http://x/1") {
		t.Errorf("ID 不匹配: %s", e.ID)
	}
	if len(e.MatchedTags) != 1 || e.MatchedTags[0] != "PNT" {
		t.Errorf("MatchedTags 不匹配: %v", e.MatchedTags)
	}
	if e.Summary != "" || e.LLMText != "PNT update\n" {
		t.Errorf("摘要为空时 LLMText 应为标题加换行: %q", e.LLMText)
	}
	if e.Published != fixedNow.Format(time.RFC3339) {
		t.Errorf("缺少发布时间时应回退到抓取时间: %s", e.Published)
	}

	if _, err := store.MarkAllRead(); err != nil {
		t.Fatalf("MarkAllRead 失败: %v", err)
	}
	unread, _ = store.Unread()
	if len(unread) != 0 {
		t.Fatalf("标记已读后应无未读，得到 %d 条", len(unread))
	}
}

func TestFetcherRerunNoDuplicates(t *testing.T) {
	srv := setupTestServer(testRSSFeed)
	defer srv.Close()

	f, store := newTestFetcher(t, []config.Feed{{URL: srv.URL, Tags: []string{"gnss", "jamming"}}})

	first, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("第一次 Run 失败: %v", err)
	}
	if first.New != 2 {
		t.Fatalf("第一次应新增 2 条，实际 %d", first.New)
	}

	second, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("第二次 Run 失败: %v", err)
	}
	if second.New != 0 || second.Feeds[0].Duplicates != 2 {
		t.Errorf("重复抓取不应新增条目: %+v", second.Feeds[0])
	}

	all := mustAll(t, store)
	if len(all) != 2 {
		t.Fatalf("期望 2 条，得到 %d 条", len(all))
	}
	if all[0].Title != "New GNSS Receiver" {
		t.Errorf("入库顺序应为发现顺序: %s", all[0].Title)
	}
	if all[0].Published != "2026-02-19T00:00:00Z" {
		t.Errorf("发布时间应转换为 UTC RFC3339: %s", all[0].Published)
	}
}

func TestFetcherAtom(t *testing.T) {
	srv := setupTestServer(testAtomFeed)
	defer srv.Close()

	f, store := newTestFetcher(t, []config.Feed{{URL: srv.URL, Tags: []string{"leo"}}})
	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run 失败: %v", err)
	}

	all := mustAll(t, store)
	if len(all) != 1 {
		t.Fatalf("期望 1 条 Atom 条目，得到 %d 条", len(all))
	}
	if all[0].Link != "https://example.com/atom/1" {
		t.Errorf("链接不匹配: %s", all[0].Link)
	}
	if all[0].Summary != "Trials of LEO based timing." {
		t.Errorf("摘要不匹配: %s", all[0].Summary)
	}
}

func TestFetcherNoTagsNeverMatches(t *testing.T) {
	srv := setupTestServer(testRSSFeed)
	defer srv.Close()

	f, store := newTestFetcher(t, []config.Feed{{URL: srv.URL}})
	report, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run 失败: %v", err)
	}
	if report.Matched != 0 || report.Feeds[0].Fetched != 3 {
		t.Errorf("没有标签的订阅源不应匹配任何条目: %+v", report.Feeds[0])
	}
	all := mustAll(t, store)
	if len(all) != 0 {
		t.Fatalf("期望 0 条，得到 %d 条", len(all))
	}
}

func TestFetcherFailedFeedIsSkipped(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()
	garbage := setupTestServer("not xml at all")
	defer garbage.Close()
	good := setupTestServer(pntFeed)
	defer good.Close()

	f, store := newTestFetcher(t, []config.Feed{
		{URL: bad.URL, Tags: []string{"PNT"}},
		{URL: garbage.URL, Tags: []string{"PNT"}},
		{URL: good.URL, Tags: []string{"PNT"}},
	})

	report, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("单个订阅源失败不应中止: %v", err)
	}
	if report.Failed != 2 {
		t.Errorf("期望 2 个失败，实际 %d", report.Failed)
	}
	if report.Feeds[0].Error != "HTTP 500" {
		t.Errorf("错误信息不匹配: %s", report.Feeds[0].Error)
	}
	if report.New != 1 {
		t.Errorf("剩余订阅源应继续处理，新增 %d 条", report.New)
	}

	unread := mustUnread(t, store)
	if len(unread) != 1 {
		t.Fatalf("期望 1 条未读，得到 %d 条", len(unread))
	}
}

func TestFetcherSkipsEmptyLink(t *testing.T) {
	srv := setupTestServer(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>x</title>
<item><title>PNT without link</title></item>
</channel></rss>`)
	defer srv.Close()

	f, store := newTestFetcher(t, []config.Feed{{URL: srv.URL, Tags: []string{"PNT"}}})
	report, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run 失败: %v", err)
	}
	if report.Feeds[0].Skipped != 1 || report.New != 0 {
		t.Errorf("没有链接的条目应被跳过: %+v", report.Feeds[0])
	}
	all := mustAll(t, store)
	if len(all) != 0 {
		t.Fatalf("期望 0 条，得到 %d 条", len(all))
	}
}

func TestFetcherReload(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if ua := r.Header.Get("User-Agent"); ua != defaultUserAgent {
			t.Errorf("User-Agent 不匹配: %s", ua)
		}
		fmt.Fprint(w, pntFeed)
	}))
	defer srv.Close()

	f, store := newTestFetcher(t, nil)
	report, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run 失败: %v", err)
	}
	if len(report.Feeds) != 0 {
		t.Fatalf("没有订阅源时不应抓取: %+v", report)
	}

	f.Reload([]config.Feed{{URL: srv.URL, Tags: []string{"pnt"}}})
	if got := f.Feeds(); len(got) != 1 || got[0].URL != srv.URL {
		t.Fatalf("Reload 后订阅源不匹配: %v", got)
	}
	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run 失败: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("期望请求 1 次，实际 %d 次", hits)
	}
	all := mustAll(t, store)
	if len(all) != 1 {
		t.Fatalf("期望 1 条，得到 %d 条", len(all))
	}
}

func TestFetcherContextCanceled(t *testing.T) {
	srv := setupTestServer(pntFeed)
	defer srv.Close()

	f, _ := newTestFetcher(t, []config.Feed{{URL: srv.URL, Tags: []string{"PNT"}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Run(ctx); err == nil {
		t.Fatal("取消的 context 应返回错误")
	}
}

// failingStore 模拟持久化失败。
type failingStore struct{ Store }

func (failingStore) InsertIfUnseen(Entry) (bool, error) {
	return false, fmt.Errorf("disk full")
}

func TestFetcherStoreFailureSurfaces(t *testing.T) {
	srv := setupTestServer(pntFeed)
	defer srv.Close()

	f := NewFetcher(failingStore{}, []config.Feed{{URL: srv.URL, Tags: []string{"PNT"}}}, FetcherOptions{})
	report, err := f.Run(context.Background())
	if err == nil {
		t.Fatal("存储失败应返回给调用方")
	}
	if report == nil || len(report.Feeds) != 1 {
		t.Fatalf("应返回部分报告: %+v", report)
	}
}
