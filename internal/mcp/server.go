// Package mcp 通过 MCP stdio 协议暴露工具注册表和两个只读资源。
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iabetor/rssmcp/internal/logger"
	"github.com/iabetor/rssmcp/internal/rss"
	"github.com/iabetor/rssmcp/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	ServerName    = "rss-mcp-server"
	ServerVersion = "1.0.0"

	UnreadURI = "rss://feeds/unread"
	AllURI    = "rss://feeds/all"
)

// EntryLister 资源读取所需的查询接口，rss.Service 满足它。
type EntryLister interface {
	Unread(limit int) ([]rss.Entry, error)
	All() ([]rss.Entry, error)
}

// NewServer 把 Registry 中的每个工具注册为 MCP 工具，并挂载未读/全部两个资源。
func NewServer(reg *tools.Registry, entries EntryLister) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
	)

	for _, def := range reg.Definitions() {
		s.AddTool(mcp.NewToolWithRawSchema(def.Name, def.Description, def.InputSchema), toolHandler(reg, def.Name))
	}

	s.AddResource(
		mcp.NewResource(UnreadURI, "Unread RSS Articles",
			mcp.WithResourceDescription("Unread articles from the stored state; feeds are not fetched on read, call update_rss_feeds first to refresh"),
			mcp.WithMIMEType("application/json"),
		),
		resourceHandler(UnreadURI, func() ([]rss.Entry, error) { return entries.Unread(0) }),
	)
	s.AddResource(
		mcp.NewResource(AllURI, "All RSS Articles",
			mcp.WithResourceDescription("All stored articles, read and unread; feeds are not fetched on read"),
			mcp.WithMIMEType("application/json"),
		),
		resourceHandler(AllURI, entries.All),
	)

	return s
}

// Serve 在 stdin/stdout 上运行 MCP 服务，直到输入结束或出错。
func Serve(s *server.MCPServer) error {
	logger.Infof("[mcp] %s %s 已启动 (stdio)", ServerName, ServerVersion)
	return server.ServeStdio(s)
}

// toolHandler 把 MCP 调用转发给 Registry。工具错误以 isError 结果返回，而不是协议错误。
func toolHandler(reg *tools.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		result, err := reg.Execute(ctx, name, args)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}

func resourceHandler(uri string, list func() ([]rss.Entry, error)) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := list()
		if err != nil {
			return nil, fmt.Errorf("读取资源 %s 失败: %w", uri, err)
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("序列化资源 %s 失败: %w", uri, err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	}
}
