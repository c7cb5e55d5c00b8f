package rss

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iabetor/rssmcp/internal/logger"
	"github.com/samber/lo"
)

// Store 条目和已读集合的持久化接口。
// 实现必须串行化所有读改写。
type Store interface {
	// InsertIfUnseen 条目 ID 已读或已入库时为空操作并返回 false。
	InsertIfUnseen(e Entry) (bool, error)
	// Unread 按入库顺序返回未读条目，没有时返回空切片。
	Unread() ([]Entry, error)
	// All 按入库顺序返回全部条目。
	All() ([]Entry, error)
	// MarkAllRead 将当前所有条目标记为已读，返回新标记的数量。
	MarkAllRead() (int, error)
	// MarkRead 将指定 ID 标记为已读，ID 不必已入库。
	MarkRead(ids ...string) (int, error)
	// State 返回 ID 所处的状态。
	State(id string) (EntryState, error)
	Close() error
}

// document 是 JSON 状态文件的结构。
type document struct {
	Entries     []Entry   `json:"entries"`
	ReadIDs     []string  `json:"read_ids"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

func (d *document) readSet() map[string]struct{} {
	set := make(map[string]struct{}, len(d.ReadIDs))
	for _, id := range d.ReadIDs {
		set[id] = struct{}{}
	}
	return set
}

// FileStore 把状态保存为单个 JSON 文档。
// 每次操作都重新读取文件，文件本身是唯一的数据来源。
type FileStore struct {
	mu       sync.Mutex
	filePath string
}

var _ Store = (*FileStore)(nil)

// NewFileStore 创建 JSON 文件状态存储。
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	return &FileStore{filePath: path}, nil
}

// Path 返回状态文件路径。
func (s *FileStore) Path() string {
	return s.filePath
}

// load 读取状态文件。文件不存在或损坏时视为空状态。
func (s *FileStore) load() *document {
	doc := &document{}
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("[rss] 读取状态文件失败（将使用空状态）: %v", err)
		}
		return doc
	}
	if err := json.Unmarshal(data, doc); err != nil {
		logger.Warnf("[rss] 解析状态文件失败（将使用空状态）: %v", err)
		return &document{}
	}
	return doc
}

// save 先写临时文件再 rename，避免写到一半留下损坏的文件。
func (s *FileStore) save(doc *document) error {
	if doc.Entries == nil {
		doc.Entries = []Entry{}
	}
	if doc.ReadIDs == nil {
		doc.ReadIDs = []string{}
	}
	doc.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化状态失败: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), filepath.Base(s.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时状态文件失败: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("写入状态文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("写入状态文件失败: %w", err)
	}
	if err := os.Rename(tmpName, s.filePath); err != nil {
		return fmt.Errorf("替换状态文件失败: %w", err)
	}
	return nil
}

func (s *FileStore) InsertIfUnseen(e Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if lo.Contains(doc.ReadIDs, e.ID) {
		return false, nil
	}
	if lo.ContainsBy(doc.Entries, func(x Entry) bool { return x.ID == e.ID }) {
		return false, nil
	}

	doc.Entries = append(doc.Entries, e)
	if err := s.save(doc); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) Unread() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	read := doc.readSet()
	return lo.Filter(doc.Entries, func(e Entry, _ int) bool {
		_, ok := read[e.ID]
		return !ok
	}), nil
}

func (s *FileStore) All() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if doc.Entries == nil {
		return []Entry{}, nil
	}
	return doc.Entries, nil
}

func (s *FileStore) MarkAllRead() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	return s.markLocked(doc, lo.Map(doc.Entries, func(e Entry, _ int) string { return e.ID }))
}

func (s *FileStore) MarkRead(ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.markLocked(s.load(), ids)
}

// markLocked 把 ids 追加到已读集合，只有发生变化时才写文件。
func (s *FileStore) markLocked(doc *document, ids []string) (int, error) {
	read := doc.readSet()
	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := read[id]; ok {
			continue
		}
		read[id] = struct{}{}
		doc.ReadIDs = append(doc.ReadIDs, id)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := s.save(doc); err != nil {
		return 0, err
	}
	return added, nil
}

func (s *FileStore) State(id string) (EntryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if lo.Contains(doc.ReadIDs, id) {
		return StateRead, nil
	}
	if lo.ContainsBy(doc.Entries, func(x Entry) bool { return x.ID == id }) {
		return StateUnread, nil
	}
	return StateUnseen, nil
}

// Close 无需释放资源。
func (s *FileStore) Close() error { return nil }
