// ABOUTME: Splits a human-authored task list document into ordered task descriptors.
// ABOUTME: Walks the goldmark AST for "## Task N: Title" headings, so headings inside code fences are ignored.
package tasklist

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/2389-research/taskrunner/runner"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// taskHeading matches the text of a level-2 task heading.
var taskHeading = regexp.MustCompile(`^Task\s+(\d+)\s*:\s*(.+)$`)

// ErrNoTasks is returned when a document contains no task headings.
var ErrNoTasks = errors.New("no \"## Task N: Title\" headings found")

type heading struct {
	number    int
	title     string
	lineStart int // offset of the heading line
	bodyStart int // offset just past the heading line
}

// Parse returns one descriptor per task heading, in document order. Each
// instruction is "# Title" followed by the text up to the next task heading.
func Parse(source []byte) ([]runner.TaskDescriptor, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var heads []heading
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 2 || h.Lines().Len() == 0 {
			continue
		}
		m := taskHeading.FindStringSubmatch(strings.TrimSpace(headingText(h, source)))
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("task heading %q: %w", m[0], err)
		}
		seg := h.Lines().At(0)
		heads = append(heads, heading{
			number:    num,
			title:     strings.TrimSpace(m[2]),
			lineStart: lineStart(source, seg.Start),
			bodyStart: lineEnd(source, seg.Stop),
		})
	}
	if len(heads) == 0 {
		return nil, ErrNoTasks
	}

	descs := make([]runner.TaskDescriptor, len(heads))
	for i, h := range heads {
		if h.number != i+1 {
			return nil, fmt.Errorf("task %q is numbered %d, expected %d", h.title, h.number, i+1)
		}
		end := len(source)
		if i+1 < len(heads) {
			end = heads[i+1].lineStart
		}
		body := strings.TrimSpace(string(source[h.bodyStart:end]))
		descs[i] = runner.TaskDescriptor{
			Title:       h.title,
			Instruction: fmt.Sprintf("# %s\n\n%s", h.title, body),
		}
	}
	return descs, nil
}

// ParseFile reads and parses a task list document.
func ParseFile(path string) ([]runner.TaskDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task list: %w", err)
	}
	descs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return descs, nil
}

// headingText concatenates the raw text of a heading's inline children.
func headingText(h *ast.Heading, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(h, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func lineStart(source []byte, pos int) int {
	if i := bytes.LastIndexByte(source[:pos], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}

func lineEnd(source []byte, pos int) int {
	if i := bytes.IndexByte(source[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(source)
}
