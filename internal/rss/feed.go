// Package rss 实现订阅源抓取、标签过滤、去重入库以及已读/未读状态。
package rss

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/iabetor/rssmcp/internal/config"
	"github.com/samber/lo"
)

// Entry 通过标签过滤后持久化的条目。
type Entry struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Link        string   `json:"link"`
	Published   string   `json:"published"`
	MatchedTags []string `json:"matched_tags"`
	LLMText     string   `json:"llm_text"`
}

// EntryState 单个条目 ID 的生命周期：unseen → unread → read，已读不可回退。
type EntryState int

const (
	// StateUnseen 从未入库，也没有被标记已读。
	StateUnseen EntryState = iota
	// StateUnread 已入库，未读。
	StateUnread
	// StateRead 已标记已读（条目本身可能不在库中）。
	StateRead
)

var stateNames = [...]string{
	"unseen",
	"unread",
	"read",
}

func (s EntryState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Fingerprint 计算条目 ID：链接的 MD5 十六进制摘要。
// 只依赖 link，同一链接的内容变化不会产生新条目。
func Fingerprint(link string) string {
	sum := md5.Sum([]byte(link))
	return hex.EncodeToString(sum[:])
}

// MatchText 拼接用于标签匹配和下游消费的文本。
func MatchText(title, summary string) string {
	return title + "\n" + summary
}

// MatchTags 判断文本是否包含任一标签（不区分大小写的子串匹配，"ai" 可以匹配 "rain"）。
// 标签原样参与匹配，" ai " 只匹配前后带空白的 ai。全空白标签被忽略，没有标签时永远不匹配。
func MatchTags(text string, tags []string) bool {
	lower := strings.ToLower(text)
	return lo.SomeBy(tags, func(tag string) bool {
		return strings.TrimSpace(tag) != "" && strings.Contains(lower, strings.ToLower(tag))
	})
}

// NewEntry 根据订阅源条目字段构建 Entry。
// published 为空时使用 fetchedAt。
func NewEntry(title, summary, link, published string, feed config.Feed, fetchedAt time.Time) Entry {
	if published == "" {
		published = fetchedAt.UTC().Format(time.RFC3339)
	}
	tags := make([]string, len(feed.Tags))
	copy(tags, feed.Tags)
	return Entry{
		ID:          Fingerprint(link),
		Title:       title,
		Summary:     summary,
		Link:        link,
		Published:   published,
		MatchedTags: tags,
		LLMText:     MatchText(title, summary),
	}
}
