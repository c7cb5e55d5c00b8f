package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/iabetor/rssmcp/internal/logger"
)

// ErrUnknownTool 调用了未注册的工具。
var ErrUnknownTool = errors.New("unknown tool")

// Tool 定义工具接口，每个工具必须自描述。
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Definition 工具的对外描述，MCP tools/list 和 HTTP /tools 都使用它。
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Registry 管理所有已注册工具。
type Registry struct {
	tools map[string]Tool
}

// NewRegistry 创建工具注册表。
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register 注册一个工具，同名工具会被覆盖。
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
	logger.Debugf("[tools] 已注册工具: %s", t.Name())
}

// Get 获取指定名称的工具。
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions 按名称排序返回所有工具的定义。
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute 执行指定工具并返回结果。
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	logger.Infof("[tools] 执行工具: %s, 参数: %s", name, string(args))
	result, err := t.Execute(ctx, args)
	if err != nil {
		logger.Warnf("[tools] 工具 %s 执行失败: %v", name, err)
		return "", err
	}
	logger.Debugf("[tools] 工具 %s 执行成功", name)
	return result, nil
}

// Count 返回已注册工具数量。
func (r *Registry) Count() int {
	return len(r.tools)
}
