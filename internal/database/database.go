package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iabetor/rssmcp/internal/logger"
	_ "modernc.org/sqlite"
)

// DB 是 SQLite 数据库连接，state.backend 为 sqlite 时用作状态存储。
type DB struct {
	*sql.DB
	path string
}

// Open 打开或创建数据库。
func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("数据库路径为空")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// 单写者：所有读改写都走同一个连接
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 busy_timeout 失败: %w", err)
	}

	logger.Infof("[database] 数据库已打开: %s", dbPath)

	return &DB{DB: db, path: dbPath}, nil
}

// Path 返回数据库文件路径。
func (db *DB) Path() string {
	return db.path
}

// Migrate 创建状态表。可重复执行。
func (db *DB) Migrate() error {
	migrations := []string{
		// 条目表，seq 保留发现顺序
		`CREATE TABLE IF NOT EXISTS rss_entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			link TEXT NOT NULL DEFAULT '',
			published TEXT NOT NULL DEFAULT '',
			matched_tags TEXT NOT NULL DEFAULT '[]',
			llm_text TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// 已读 ID 集合，不要求引用 rss_entries
		`CREATE TABLE IF NOT EXISTS rss_read_ids (
			id TEXT PRIMARY KEY,
			read_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_rss_entries_link ON rss_entries(link)`); err != nil {
		logger.Warnf("[database] 创建索引失败: %v", err)
	}

	logger.Debugf("[database] 数据库迁移完成")
	return nil
}

// Close 关闭数据库连接。
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}
