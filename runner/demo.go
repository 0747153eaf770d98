// ABOUTME: Demo mode canned output: deterministic stream-json responses chosen by task title keywords.
// ABOUTME: Lets the whole engine run offline; the canned stream goes through the same parser as real output.
package runner

import (
	"encoding/json"
	"strings"
)

// DemoSource returns the line-delimited event stream a simulated worker
// would emit for task.
type DemoSource func(task Task) string

// DemoStream encodes content chunks as content-delta events followed by done.
func DemoStream(chunks ...string) string {
	var b strings.Builder
	for _, c := range chunks {
		line, _ := json.Marshal(map[string]string{"type": "content-delta", "text": c})
		b.Write(line)
		b.WriteByte('\n')
	}
	b.WriteString(`{"type":"done"}` + "\n")
	return b.String()
}

// DemoErrorStream emits some content and then an in-band error event.
func DemoErrorStream(message string, chunks ...string) string {
	stream := strings.TrimSuffix(DemoStream(chunks...), `{"type":"done"}`+"\n")
	line, _ := json.Marshal(map[string]any{"type": "error", "error": map[string]string{"message": message}})
	return stream + string(line) + "\n"
}

// DefaultDemoSource picks a response by keyword in the task title.
func DefaultDemoSource(task Task) string {
	header := "# Simulated output for " + task.Title + "\n\n"
	title := strings.ToLower(task.Title)
	switch {
	case strings.Contains(title, "analyze"):
		return DemoStream(header,
			"## Code Structure Analysis\n\n",
			"The codebase is layered:\n\n",
			"1. **Commands**: CLI entry points and output rendering\n",
			"2. **Engine**: task store, worker control, stream parsing\n",
			"3. **Adapters**: HTTP and MCP surfaces\n",
		)
	case strings.Contains(title, "documentation"):
		return DemoStream(header,
			"## Documentation Template\n\n",
			"```go\n",
			"// FunctionName does one thing and returns an error if it cannot.\n",
			"func FunctionName(ctx context.Context, arg string) (Result, error)\n",
			"```\n",
		)
	case strings.Contains(title, "test"):
		return DemoStream(header,
			"## Unit Test Example\n\n",
			"```go\n",
			"func TestRunAllDemo(t *testing.T) {\n",
			"\tr := newDemoRunner(t, \"A\", \"B\", \"C\")\n",
			"\tsum := r.RunAll(context.Background())\n",
			"\tif sum.Summary.Completed != 3 {\n",
			"\t\tt.Fatalf(\"completed = %d, want 3\", sum.Summary.Completed)\n",
			"\t}\n",
			"}\n",
			"```\n",
		)
	case strings.Contains(title, "cli"):
		return DemoStream(header,
			"## CLI Example\n\n",
			"```\n",
			"taskrunner create tasks.md\n",
			"taskrunner run --timeout 300\n",
			"taskrunner status --json\n",
			"```\n",
		)
	default:
		return DemoStream(header,
			"This is a demo response generated without a worker.\n\n",
			"Task instruction: "+task.InstructionPath+"\n",
		)
	}
}
