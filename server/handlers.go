package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aspects-ai/agent-backend/engine/backend"
	"github.com/aspects-ai/agent-backend/engine/core"
	"github.com/aspects-ai/agent-backend/engine/pathres"
)

// toolError converts a backend error into an MCP error result. The stable
// error code rides along so callers can react programmatically.
func toolError(err error) *mcp.CallToolResult {
	if code := core.CodeOf(err); code != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", code, err.Error()))
	}
	return mcp.NewToolResultError(err.Error())
}

func (h *Handlers) Exec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var opts *backend.ExecOptions
	if cwd := req.GetString("cwd", ""); cwd != "" {
		// The tool accepts workspace-relative directories; backends demand
		// absolute ones.
		abs, err := pathres.Resolve(h.backend.RootDir(), cwd)
		if err != nil {
			return toolError(backend.ErrPathEscape(cwd, err)), nil
		}
		opts = &backend.ExecOptions{Cwd: abs}
	}

	result, err := h.backend.Exec(ctx, command, opts)
	if err != nil {
		h.log.Warn("exec failed", "command", command, "error", err)
		return toolError(err), nil
	}

	payload, err := json.Marshal(map[string]any{
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
		"exit_code": result.ExitCode,
		"timed_out": result.TimedOut,
		"truncated": result.Truncated,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (h *Handlers) ReadFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := h.backend.Read(ctx, path)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(string(content)), nil
}

func (h *Handlers) WriteFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.backend.Write(ctx, path, []byte(content)); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}

func (h *Handlers) ListDir(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", ".")
	names, err := h.backend.List(ctx, path)
	if err != nil {
		return toolError(err), nil
	}
	payload, err := json.Marshal(names)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (h *Handlers) MakeDir(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.backend.Mkdir(ctx, path); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("created " + path), nil
}

func (h *Handlers) FileStat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := h.backend.Stat(ctx, path)
	if err != nil {
		return toolError(err), nil
	}
	payload, err := json.Marshal(map[string]any{
		"is_file":  info.IsFile,
		"is_dir":   info.IsDir,
		"size":     info.Size,
		"mod_time": info.ModTime,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (h *Handlers) FileExists(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	exists, err := h.backend.Exists(ctx, path)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%t", exists)), nil
}

func (h *Handlers) Rename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	oldPath, err := req.RequireString("old_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newPath, err := req.RequireString("new_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.backend.Rename(ctx, oldPath, newPath); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("renamed %s to %s", oldPath, newPath)), nil
}

func (h *Handlers) Delete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := &backend.RemoveOptions{
		Recursive: req.GetBool("recursive", false),
		Force:     req.GetBool("force", false),
	}
	if err := h.backend.Remove(ctx, path, opts); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("deleted " + path), nil
}
