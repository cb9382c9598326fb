// Package server exposes a workspace backend as an MCP server over stdio.
// Each tool maps one-to-one onto a backend operation; scope security and
// command classification happen inside the backend, never here.
package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aspects-ai/agent-backend/engine/backend"
	"github.com/aspects-ai/agent-backend/pkg/logger"
)

// Config names the server as reported during MCP initialization.
type Config struct {
	Name    string
	Version string
}

// Handlers bundles the backend behind the MCP tool surface.
type Handlers struct {
	backend backend.Backend
	log     logger.Logger
}

// New wires every workspace tool into an MCP server instance.
func New(b backend.Backend, cfg *Config, log logger.Logger) *server.MCPServer {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	name, version := "agent-backend", "dev"
	if cfg != nil {
		if cfg.Name != "" {
			name = cfg.Name
		}
		if cfg.Version != "" {
			version = cfg.Version
		}
	}

	s := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := &Handlers{backend: b, log: log}

	s.AddTool(mcp.NewTool("exec",
		mcp.WithDescription("Run a shell command inside the workspace. Dangerous commands are rejected."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to execute")),
		mcp.WithString("cwd", mcp.Description("Working directory relative to the workspace root")),
	), h.Exec)

	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read a file from the workspace."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the workspace root")),
	), h.ReadFile)

	s.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Write a file in the workspace, creating parent directories as needed."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the workspace root")),
		mcp.WithString("content", mcp.Required(), mcp.Description("File content")),
	), h.WriteFile)

	s.AddTool(mcp.NewTool("list_dir",
		mcp.WithDescription("List the immediate children of a workspace directory."),
		mcp.WithString("path", mcp.Description("Directory path relative to the workspace root; defaults to the root")),
	), h.ListDir)

	s.AddTool(mcp.NewTool("make_dir",
		mcp.WithDescription("Create a directory in the workspace, including parents."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Directory path relative to the workspace root")),
	), h.MakeDir)

	s.AddTool(mcp.NewTool("file_stat",
		mcp.WithDescription("Get file metadata: kind, size, and modification time."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the workspace root")),
	), h.FileStat)

	s.AddTool(mcp.NewTool("file_exists",
		mcp.WithDescription("Check whether a workspace path exists."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the workspace root")),
	), h.FileExists)

	s.AddTool(mcp.NewTool("rename",
		mcp.WithDescription("Move or rename a file or directory inside the workspace."),
		mcp.WithString("old_path", mcp.Required(), mcp.Description("Current path relative to the workspace root")),
		mcp.WithString("new_path", mcp.Required(), mcp.Description("Target path relative to the workspace root")),
	), h.Rename)

	s.AddTool(mcp.NewTool("delete",
		mcp.WithDescription("Delete a file or directory inside the workspace."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the workspace root")),
		mcp.WithBoolean("recursive", mcp.Description("Delete directories and their contents")),
		mcp.WithBoolean("force", mcp.Description("Ignore missing paths")),
	), h.Delete)

	return s
}

// ServeStdio blocks serving MCP requests on stdin and stdout until the
// stream closes or the context ends.
func ServeStdio(ctx context.Context, s *server.MCPServer) error {
	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeStdio(s) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
