package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Feed 单个订阅源配置。
type Feed struct {
	URL  string   `yaml:"url" json:"url"`
	Tags []string `yaml:"tags" json:"tags"`
}

// feedsDocument 兼容 `feeds:` 包裹的写法。
type feedsDocument struct {
	Feeds []Feed `yaml:"feeds"`
}

// DefaultFeeds 返回内置的 GNSS/PNT 订阅源列表，配置文件不可用时使用。
func DefaultFeeds() []Feed {
	return []Feed{
		{
			URL:  "https://insidegnss.com/feed/",
			Tags: []string{"C-band", "TrustPoint", "GPSIA", "PNT"},
		},
		{
			URL:  "https://breakingdefense.com/feed/",
			Tags: []string{"LEO", "alt-PNT", "jamming", "military"},
		},
		{
			URL:  "https://www.gpsworld.com/feed/",
			Tags: []string{"GPS", "GNSS", "navigation", "timing"},
		},
	}
}

// LoadFeeds 读取订阅源配置文件。
// 文件缺失、无法解析或为空时返回 DefaultFeeds 以及说明原因的错误，调用方记录警告后继续运行。
func LoadFeeds(path string) ([]Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultFeeds(), fmt.Errorf("读取订阅源配置 %s 失败: %w", path, err)
	}

	feeds, err := ParseFeeds(data)
	if err != nil {
		return DefaultFeeds(), fmt.Errorf("解析订阅源配置 %s 失败: %w", path, err)
	}
	if len(feeds) == 0 {
		return DefaultFeeds(), fmt.Errorf("订阅源配置 %s 为空", path)
	}
	return feeds, nil
}

// ParseFeeds 解析订阅源 YAML，支持顶层列表或 `feeds:` 映射两种写法。
// 没有 url 的条目会被丢弃，空白标签会被去掉。
func ParseFeeds(data []byte) ([]Feed, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	var feeds []Feed
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&feeds); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var doc feedsDocument
		if err := root.Decode(&doc); err != nil {
			return nil, err
		}
		feeds = doc.Feeds
	default:
		return nil, errors.New("订阅源配置应为列表或包含 feeds 的映射")
	}

	feeds = lo.Filter(feeds, func(f Feed, _ int) bool {
		return strings.TrimSpace(f.URL) != ""
	})
	for i := range feeds {
		feeds[i].URL = strings.TrimSpace(feeds[i].URL)
		// 只丢弃空白标签，其余标签保持原样
		feeds[i].Tags = lo.Filter(feeds[i].Tags, func(t string, _ int) bool {
			return strings.TrimSpace(t) != ""
		})
	}
	return feeds, nil
}
