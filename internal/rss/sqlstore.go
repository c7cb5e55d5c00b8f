package rss

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/iabetor/rssmcp/internal/database"
)

var entryColumns = []string{"id", "title", "summary", "link", "published", "matched_tags", "llm_text"}

// SQLStore 基于 SQLite 的状态存储，语义与 FileStore 一致。
type SQLStore struct {
	mu sync.Mutex
	db *database.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore 在 db 上创建状态存储，会先执行表结构迁移。
func NewSQLStore(db *database.DB) (*SQLStore, error) {
	if err := db.Migrate(); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) InsertIfUnseen(e Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	state, err := stateOf(tx, e.ID)
	if err != nil {
		return false, err
	}
	if state != StateUnseen {
		return false, nil
	}

	tags, err := json.Marshal(e.MatchedTags)
	if err != nil {
		return false, fmt.Errorf("序列化标签失败: %w", err)
	}

	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("rss_entries").
		Cols(entryColumns...).
		Values(e.ID, e.Title, e.Summary, e.Link, e.Published, string(tags), e.LLMText)
	query, args := ib.BuildWithFlavor(sqlbuilder.SQLite)
	if _, err := tx.Exec(query, args...); err != nil {
		return false, fmt.Errorf("写入条目失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("提交事务失败: %w", err)
	}
	return true, nil
}

func (s *SQLStore) Unread() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(entryColumns...).From("rss_entries")
	sb.Where("id NOT IN (SELECT id FROM rss_read_ids)")
	sb.OrderBy("seq").Asc()
	return s.queryEntries(sb)
}

func (s *SQLStore) All() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(entryColumns...).From("rss_entries")
	sb.OrderBy("seq").Asc()
	return s.queryEntries(sb)
}

func (s *SQLStore) queryEntries(sb *sqlbuilder.SelectBuilder) ([]Entry, error) {
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询条目失败: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var tags string
		if err := rows.Scan(&e.ID, &e.Title, &e.Summary, &e.Link, &e.Published, &tags, &e.LLMText); err != nil {
			return nil, fmt.Errorf("读取条目失败: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &e.MatchedTags); err != nil {
			return nil, fmt.Errorf("解析条目 %s 的标签失败: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLStore) MarkAllRead() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`INSERT OR IGNORE INTO rss_read_ids (id) SELECT id FROM rss_entries`)
	if err != nil {
		return 0, fmt.Errorf("标记全部已读失败: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLStore) MarkRead(ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("rss_read_ids").Cols("id")
	rows := 0
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ib.Values(id)
		rows++
	}
	if rows == 0 {
		return 0, nil
	}

	// SQLite 不支持 INSERT IGNORE，用 ON CONFLICT 跳过已读 id
	query, args := ib.BuildWithFlavor(sqlbuilder.SQLite)
	query += " ON CONFLICT (id) DO NOTHING"
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("标记已读失败: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLStore) State(id string) (EntryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return stateOf(s.db, id)
}

// Close 关闭底层数据库。
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func stateOf(q queryRower, id string) (EntryState, error) {
	if found, err := exists(q, "rss_read_ids", id); err != nil {
		return StateUnseen, err
	} else if found {
		return StateRead, nil
	}
	if found, err := exists(q, "rss_entries", id); err != nil {
		return StateUnseen, err
	} else if found {
		return StateUnread, nil
	}
	return StateUnseen, nil
}

func exists(q queryRower, table, id string) (bool, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("1").From(table).Where(sb.Equal("id", id)).Limit(1)
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	var one int
	err := q.QueryRow(query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询 %s 失败: %w", table, err)
	}
	return true, nil
}
