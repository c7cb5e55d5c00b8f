package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/iabetor/rssmcp/internal/config"
	"github.com/iabetor/rssmcp/internal/database"
	"github.com/iabetor/rssmcp/internal/rss"
	"github.com/iabetor/rssmcp/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>PNT</title>
<item><title>PNT update</title><link>http://x/1</link><description>timing</description></item>
<item><title>GNSS outage</title><link>http://x/2</link></item>
<item><title>Recipes</title><link>http://x/3</link></item>
</channel></rss>`

type fixture struct {
	app   *fiber.App
	svc   *rss.Service
	feeds []config.Feed
}

func newFixture(t *testing.T, loadFeeds func() ([]config.Feed, error)) *fixture {
	t.Helper()
	store, err := rss.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	return newFixtureWithStore(t, store, loadFeeds)
}

func newSQLFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	store, err := rss.NewSQLStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newFixtureWithStore(t, store, nil)
}

func newFixtureWithStore(t *testing.T, store rss.Store, loadFeeds func() ([]config.Feed, error)) *fixture {
	t.Helper()
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedXML)
	}))
	t.Cleanup(feedSrv.Close)

	feeds := []config.Feed{{URL: feedSrv.URL, Tags: []string{"pnt", "gnss"}}}
	svc := rss.NewService(rss.NewFetcher(store, feeds, rss.FetcherOptions{}), store)
	reg := tools.NewRegistry()
	tools.RegisterRSSTools(reg, svc)

	return &fixture{
		app:   New(Config{Service: svc, Registry: reg, LoadFeeds: loadFeeds}),
		svc:   svc,
		feeds: feeds,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"OK"}`, string(body))
}

func TestUnreadEmptyIsArray(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.do(t, http.MethodGet, "/rss/unread", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))
}

func TestUpdateUnreadMarkRead(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodPost, "/rss/update", "")
	require.Equal(t, http.StatusOK, code)
	var upd struct {
		Status string     `json:"status"`
		Report rss.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(body, &upd))
	assert.Equal(t, "updated", upd.Status)
	assert.Equal(t, 2, upd.Report.New)

	code, body = f.do(t, http.MethodGet, "/rss/unread", "")
	require.Equal(t, http.StatusOK, code)
	var unread []rss.Entry
	require.NoError(t, json.Unmarshal(body, &unread))
	require.Len(t, unread, 2)
	assert.Equal(t, "PNT update", unread[0].Title)
	assert.Equal(t, []string{"pnt", "gnss"}, unread[0].MatchedTags)

	code, body = f.do(t, http.MethodGet, "/rss/unread?limit=1", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &unread))
	assert.Len(t, unread, 1)

	code, body = f.do(t, http.MethodPost, "/rss/mark-read", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"marked read","count":2}`, string(body))

	_, body = f.do(t, http.MethodGet, "/rss/unread", "")
	assert.JSONEq(t, `[]`, string(body))

	// 再次抓取不会让已读条目重新出现
	f.do(t, http.MethodPost, "/rss/update", "")
	_, body = f.do(t, http.MethodGet, "/rss/unread", "")
	assert.JSONEq(t, `[]`, string(body))

	_, body = f.do(t, http.MethodGet, "/rss/all", "")
	var all []rss.Entry
	require.NoError(t, json.Unmarshal(body, &all))
	assert.Len(t, all, 2)
}

func TestMarkReadByIDs(t *testing.T) {
	fixtures := map[string]func(*testing.T) *fixture{
		"json":   func(t *testing.T) *fixture { return newFixture(t, nil) },
		"sqlite": newSQLFixture,
	}
	for name, newF := range fixtures {
		newF := newF
		t.Run(name, func(t *testing.T) {
			f := newF(t)
			code, _ := f.do(t, http.MethodPost, "/rss/update", "")
			require.Equal(t, http.StatusOK, code)

			id := rss.Fingerprint("http://x/1")
			code, body := f.do(t, http.MethodPost, "/rss/mark-read", fmt.Sprintf(`{"ids":[%q]}`, id))
			require.Equal(t, http.StatusOK, code, string(body))
			assert.JSONEq(t, `{"status":"marked read","count":1}`, string(body))

			_, body = f.do(t, http.MethodGet, "/rss/entries/"+id, "")
			assert.JSONEq(t, fmt.Sprintf(`{"id":%q,"state":"read"}`, id), string(body))

			other := rss.Fingerprint("http://x/2")
			_, body = f.do(t, http.MethodGet, "/rss/entries/"+other, "")
			assert.JSONEq(t, fmt.Sprintf(`{"id":%q,"state":"unread"}`, other), string(body))

			_, body = f.do(t, http.MethodGet, "/rss/entries/nope", "")
			assert.JSONEq(t, `{"id":"nope","state":"unseen"}`, string(body))

			// 已读 id 重复提交不再计数
			_, body = f.do(t, http.MethodPost, "/rss/mark-read", fmt.Sprintf(`{"ids":[%q]}`, id))
			assert.JSONEq(t, `{"status":"marked read","count":0}`, string(body))
		})
	}
}

func TestMarkReadBadBody(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.do(t, http.MethodPost, "/rss/mark-read", `{"ids": "oops"`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), `"status":"error"`)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/rss/update", "")

	_, body := f.do(t, http.MethodGet, "/rss/search?q=outage", "")
	var results []rss.Entry
	require.NoError(t, json.Unmarshal(body, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "http://x/2", results[0].Link)

	_, body = f.do(t, http.MethodGet, "/rss/search?q=&tag=GNSS", "")
	require.NoError(t, json.Unmarshal(body, &results))
	assert.Len(t, results, 2)

	_, body = f.do(t, http.MethodGet, "/rss/search?tag=other,none", "")
	assert.JSONEq(t, `[]`, string(body))
}

func TestReload(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, nil)
		code, _ := f.do(t, http.MethodPost, "/rss/reload", "")
		assert.Equal(t, http.StatusNotImplemented, code)
	})

	t.Run("fallback still applies", func(t *testing.T) {
		f := newFixture(t, func() ([]config.Feed, error) {
			return config.DefaultFeeds(), errors.New("missing file")
		})
		code, body := f.do(t, http.MethodPost, "/rss/reload", "")
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"status":"reloaded","feeds":3}`, string(body))
		assert.Len(t, f.svc.Feeds(), 3)
	})
}

func TestTools(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/tools", "")
	require.Equal(t, http.StatusOK, code)
	var defs []tools.Definition
	require.NoError(t, json.Unmarshal(body, &defs))
	assert.Len(t, defs, 4)

	code, body = f.do(t, http.MethodPost, "/tools/update_rss_feeds", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "RSS feeds updated successfully")

	code, body = f.do(t, http.MethodPost, "/tools/get_unread_articles", `{"limit": 1}`)
	require.Equal(t, http.StatusOK, code)
	var res struct {
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Contains(t, res.Result, `"count": 1`)

	code, body = f.do(t, http.MethodPost, "/tools/no_such_tool", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(body), "unknown tool")

	code, _ = f.do(t, http.MethodPost, "/tools/search_articles", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}
