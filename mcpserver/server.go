// ABOUTME: MCP server exposing the task runner as tools over stdio with the official go-sdk.
// ABOUTME: Each tool call opens the named base directory, acts, and returns a JSON document as text content.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389-research/taskrunner/render"
	"github.com/2389-research/taskrunner/runner"
	"github.com/2389-research/taskrunner/tasklist"
)

// Config holds the defaults applied to every tool call.
type Config struct {
	BaseDir string // used when a call omits base_dir
	Runner  runner.Config
	Logger  *log.Logger
	Options []runner.Option
	Version string
}

// Server wraps an mcp.Server with the task runner tools registered.
type Server struct {
	cfg    Config
	server *mcp.Server
}

// BaseDirInput is the argument every tool accepts.
type BaseDirInput struct {
	BaseDir string `json:"base_dir,omitempty" jsonschema:"project base directory; defaults to the server's"`
}

// RunTaskInput selects one task.
type RunTaskInput struct {
	BaseDir        string `json:"base_dir,omitempty" jsonschema:"project base directory; defaults to the server's"`
	TaskID         int    `json:"task_id" jsonschema:"id of the task to run"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"per-task timeout in seconds"`
}

// RunAllInput runs every pending task.
type RunAllInput struct {
	BaseDir        string `json:"base_dir,omitempty" jsonschema:"project base directory; defaults to the server's"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"per-task timeout in seconds"`
	Resume         bool   `json:"resume,omitempty" jsonschema:"re-queue interrupted tasks before running"`
}

// ParseTaskListInput names a task list file.
type ParseTaskListInput struct {
	TaskListPath string `json:"task_list_path" jsonschema:"path to a markdown task list"`
}

// CreateProjectInput creates a project directory, optionally seeded from a task list.
type CreateProjectInput struct {
	BaseDir      string `json:"base_dir,omitempty" jsonschema:"directory holding projects; defaults to the server's"`
	ProjectName  string `json:"project_name" jsonschema:"project directory name under base_dir"`
	TaskListPath string `json:"task_list_path,omitempty" jsonschema:"markdown task list to split into tasks"`
	Replace      bool   `json:"replace,omitempty" jsonschema:"replace existing tasks"`
}

// New registers the tools on a fresh mcp.Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{
		cfg:    cfg,
		server: mcp.NewServer(&mcp.Implementation{Name: "taskrunner", Version: cfg.Version}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "run_task",
		Description: "Run one task with a freshly cleared worker context; a finished task is re-queued first",
	}, s.runTask)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "run_all_tasks",
		Description: "Run all pending tasks in order and return the run summary",
	}, s.runAllTasks)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "parse_task_list",
		Description: "Split a markdown task list into task titles without creating anything",
	}, s.parseTaskList)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "create_project",
		Description: "Create a project directory, optionally seeded with tasks from a task list",
	}, s.createProject)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_task_status",
		Description: "Get the status of all tasks",
	}, s.getTaskStatus)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_task_summary",
		Description: "Get aggregate task counts and completion percentage",
	}, s.getTaskSummary)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "clean",
		Description: "Stop lingering workers and mark orphaned running tasks interrupted",
	}, s.clean)
	return s
}

// MCP returns the underlying server, e.g. to connect a custom transport.
func (s *Server) MCP() *mcp.Server { return s.server }

// Run serves over stdin/stdout until ctx is cancelled or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.cfg.Logger.Printf("component=mcp action=serving transport=stdio base_dir=%s", s.cfg.BaseDir)
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) runTask(ctx context.Context, _ *mcp.CallToolRequest, in RunTaskInput) (*mcp.CallToolResult, any, error) {
	cfg, err := s.runnerConfig(in.TimeoutSeconds)
	if err != nil {
		return nil, nil, err
	}
	o, err := runner.RunOne(ctx, s.baseDir(in.BaseDir), cfg, in.TaskID, s.options()...)
	if err != nil {
		return nil, nil, fmt.Errorf("run task %d: %w", in.TaskID, err)
	}
	return textResult(map[string]any{"success": o.Success(), "task_result": o})
}

func (s *Server) runAllTasks(ctx context.Context, _ *mcp.CallToolRequest, in RunAllInput) (*mcp.CallToolResult, any, error) {
	cfg, err := s.runnerConfig(in.TimeoutSeconds)
	if err != nil {
		return nil, nil, err
	}
	cfg.Resume = cfg.Resume || in.Resume
	sum, err := runner.Run(ctx, s.baseDir(in.BaseDir), cfg, s.options()...)
	if err != nil && sum.Result == runner.ResultFatal {
		return nil, nil, fmt.Errorf("run all tasks: %w", err)
	}
	return textResult(map[string]any{"success": sum.Result == runner.ResultSuccess, "summary": sum})
}

func (s *Server) parseTaskList(_ context.Context, _ *mcp.CallToolRequest, in ParseTaskListInput) (*mcp.CallToolResult, any, error) {
	descs, err := tasklist.ParseFile(in.TaskListPath)
	if err != nil {
		return nil, nil, err
	}
	titles := make([]string, len(descs))
	for i, d := range descs {
		titles[i] = d.Title
	}
	return textResult(map[string]any{"success": true, "count": len(descs), "titles": titles})
}

func (s *Server) createProject(_ context.Context, _ *mcp.CallToolRequest, in CreateProjectInput) (*mcp.CallToolResult, any, error) {
	if in.ProjectName == "" || filepath.Base(in.ProjectName) != in.ProjectName {
		return nil, nil, fmt.Errorf("project_name must be a plain directory name, got %q", in.ProjectName)
	}
	projectDir := filepath.Join(s.baseDir(in.BaseDir), in.ProjectName)

	if in.TaskListPath == "" {
		if err := os.MkdirAll(filepath.Join(projectDir, runner.TasksDirName), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create project: %w", err)
		}
		return textResult(map[string]any{
			"success":     true,
			"project":     in.ProjectName,
			"project_dir": projectDir,
			"message":     "Project structure created. Use a task list to add tasks.",
		})
	}

	descs, err := tasklist.ParseFile(in.TaskListPath)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := runner.CreateProject(projectDir, descs, in.Replace)
	if err != nil {
		return nil, nil, err
	}
	files := make([]string, len(tasks))
	for i, t := range tasks {
		files[i] = t.InstructionPath
	}
	s.cfg.Logger.Printf("component=mcp action=create_project dir=%s tasks=%d", projectDir, len(tasks))
	return textResult(map[string]any{
		"success":     true,
		"project":     in.ProjectName,
		"project_dir": projectDir,
		"task_files":  files,
		"count":       len(tasks),
	})
}

func (s *Server) getTaskStatus(_ context.Context, _ *mcp.CallToolRequest, in BaseDirInput) (*mcp.CallToolResult, any, error) {
	report, err := runner.Status(s.baseDir(in.BaseDir))
	if err != nil {
		return nil, nil, err
	}
	return textResult(map[string]any{"success": true, "status": report})
}

func (s *Server) getTaskSummary(_ context.Context, _ *mcp.CallToolRequest, in BaseDirInput) (*mcp.CallToolResult, any, error) {
	report, err := runner.Status(s.baseDir(in.BaseDir))
	if err != nil {
		return nil, nil, err
	}
	return textResult(map[string]any{"success": true, "summary": report.Summary})
}

func (s *Server) clean(_ context.Context, _ *mcp.CallToolRequest, in BaseDirInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	if err := runner.Clean(s.baseDir(in.BaseDir), s.cfg.Runner, s.options()...); err != nil {
		return nil, nil, err
	}
	return textResult(map[string]any{
		"success": true,
		"message": "Cleaned up all processes",
		"took":    time.Since(start).Round(time.Millisecond).String(),
	})
}

func (s *Server) baseDir(dir string) string {
	if dir != "" {
		return dir
	}
	return s.cfg.BaseDir
}

func (s *Server) runnerConfig(timeoutSeconds int) (runner.Config, error) {
	cfg := s.cfg.Runner
	if timeoutSeconds < 0 {
		return cfg, errors.New("timeout_seconds must not be negative")
	}
	if timeoutSeconds > 0 {
		cfg.TimeoutSeconds = timeoutSeconds
	}
	return cfg, nil
}

func (s *Server) options() []runner.Option {
	return append([]runner.Option{runner.WithLogger(s.cfg.Logger)}, s.cfg.Options...)
}

// textResult encodes v as the tool's single text content.
func textResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := render.JSON(v)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
