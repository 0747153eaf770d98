// ABOUTME: Output Stream Parser turning a worker's live stdout into content, error, and done fragments.
// ABOUTME: Supports verbatim text passthrough and tolerant line-delimited JSON events (generic and claude stream-json).
package runner

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// FragmentKind discriminates parser output.
type FragmentKind int

const (
	FragmentContent FragmentKind = iota
	FragmentError
	FragmentDone
	// FragmentMalformed reports a skipped line; Err holds a *StreamParseError.
	FragmentMalformed
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentContent:
		return "content"
	case FragmentError:
		return "error"
	case FragmentDone:
		return "done"
	case FragmentMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Fragment is one piece of interpreted worker output.
type Fragment struct {
	Kind FragmentKind
	Text string
	Line int
	Err  error
}

// LineKind is the per-line parse verdict in structured mode.
type LineKind int

const (
	LineEvent LineKind = iota
	LineIgnored
	LineMalformed
)

// LineResult is the discriminated result of parsing one line.
type LineResult struct {
	Kind      LineKind
	Type      string
	Fragments []Fragment
	Err       error
}

// streamEvent covers the generic event shape and the claude CLI's
// stream-json shape. Unused fields stay zero.
type streamEvent struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype,omitempty"`
	Text    string          `json:"text,omitempty"`
	Delta   string          `json:"delta,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Result  string          `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// assistantMessage is the message field of a claude "assistant" event.
type assistantMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

// contentPart is one block of an assistant message.
type contentPart struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// StreamParser interprets worker output in one mode. A parser carries
// per-stream state, so use a fresh one per session.
type StreamParser struct {
	mode       string
	sawContent bool
	chunkSize  int
	maxLine    int
}

// maxLineSize bounds one structured output line, newline included.
const maxLineSize = 1 << 20

// NewStreamParser returns a parser for FormatText or FormatStreamJSON.
func NewStreamParser(mode string) *StreamParser {
	return &StreamParser{mode: mode, chunkSize: 32 * 1024, maxLine: maxLineSize}
}

// ParseLine interprets one structured output line.
func (p *StreamParser) ParseLine(line []byte) LineResult {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return LineResult{Kind: LineIgnored}
	}

	var evt streamEvent
	if err := json.Unmarshal(trimmed, &evt); err != nil {
		return LineResult{Kind: LineMalformed, Err: err}
	}

	switch evt.Type {
	case "content-delta", "content_delta", "content":
		text := evt.Text
		if text == "" {
			text = evt.Delta
		}
		if text == "" {
			text = rawString(evt.Content)
		}
		return p.content(evt.Type, text)

	case "error":
		return LineResult{Kind: LineEvent, Type: evt.Type, Fragments: []Fragment{{Kind: FragmentError, Text: errorMessage(evt)}}}

	case "done":
		return LineResult{Kind: LineEvent, Type: evt.Type, Fragments: []Fragment{{Kind: FragmentDone}}}

	case "assistant":
		return p.assistant(evt)

	case "result":
		if evt.IsError {
			msg := evt.Result
			if msg == "" {
				msg = "worker reported an error result"
			}
			return LineResult{Kind: LineEvent, Type: evt.Type, Fragments: []Fragment{{Kind: FragmentError, Text: msg}}}
		}
		var frags []Fragment
		if !p.sawContent && evt.Result != "" {
			p.sawContent = true
			frags = append(frags, Fragment{Kind: FragmentContent, Text: evt.Result})
		}
		frags = append(frags, Fragment{Kind: FragmentDone})
		return LineResult{Kind: LineEvent, Type: evt.Type, Fragments: frags}

	case "":
		// Untyped legacy shapes: {"content": ...} or {"error": {...}}.
		if len(evt.Content) > 0 {
			return p.legacyContent(evt.Content)
		}
		if len(evt.Error) > 0 {
			return LineResult{Kind: LineEvent, Type: "error", Fragments: []Fragment{{Kind: FragmentError, Text: errorMessage(evt)}}}
		}
		return LineResult{Kind: LineIgnored}

	default:
		// system, user, hook and other informational events
		return LineResult{Kind: LineIgnored, Type: evt.Type}
	}
}

func (p *StreamParser) content(typ, text string) LineResult {
	if text == "" {
		return LineResult{Kind: LineIgnored, Type: typ}
	}
	p.sawContent = true
	return LineResult{Kind: LineEvent, Type: typ, Fragments: []Fragment{{Kind: FragmentContent, Text: text}}}
}

func (p *StreamParser) assistant(evt streamEvent) LineResult {
	var msg assistantMessage
	if len(evt.Message) == 0 {
		return LineResult{Kind: LineIgnored, Type: evt.Type}
	}
	if err := json.Unmarshal(evt.Message, &msg); err != nil {
		return LineResult{Kind: LineMalformed, Type: evt.Type, Err: fmt.Errorf("assistant message: %w", err)}
	}
	return p.blocks(evt.Type, msg.Content)
}

func (p *StreamParser) legacyContent(raw json.RawMessage) LineResult {
	if s := rawString(raw); s != "" {
		return p.content("content", s)
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return LineResult{Kind: LineMalformed, Type: "content", Err: fmt.Errorf("content field: %w", err)}
	}
	return p.blocks("content", parts)
}

// blocks converts content blocks into fragments. Tool calls are rendered
// inline so the result artifact shows what the worker did.
func (p *StreamParser) blocks(typ string, parts []contentPart) LineResult {
	var frags []Fragment
	for _, part := range parts {
		switch part.Type {
		case "text":
			if strings.TrimSpace(part.Text) == "" {
				continue
			}
			frags = append(frags, Fragment{Kind: FragmentContent, Text: part.Text})
		case "tool_use":
			input := string(part.Input)
			if input == "" {
				input = "{}"
			}
			frags = append(frags, Fragment{Kind: FragmentContent, Text: fmt.Sprintf("\n[Tool Use: %s - %s]\n", part.Name, input)})
		}
	}
	if len(frags) == 0 {
		return LineResult{Kind: LineIgnored, Type: typ}
	}
	p.sawContent = true
	return LineResult{Kind: LineEvent, Type: typ, Fragments: frags}
}

// Fragments lazily interprets r. In text mode content is the bytes read,
// verbatim. In stream-json mode each line is parsed independently and
// malformed lines surface as FragmentMalformed without stopping the stream.
func (p *StreamParser) Fragments(r io.Reader) iter.Seq[Fragment] {
	if p.mode == FormatText {
		return p.textFragments(r)
	}
	return p.lineFragments(r)
}

func (p *StreamParser) textFragments(r io.Reader) iter.Seq[Fragment] {
	return func(yield func(Fragment) bool) {
		buf := make([]byte, p.chunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				p.sawContent = true
				if !yield(Fragment{Kind: FragmentContent, Text: string(buf[:n])}) {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(Fragment{Kind: FragmentMalformed, Err: fmt.Errorf("read worker output: %w", err)})
				}
				return
			}
		}
	}
}

func (p *StreamParser) lineFragments(r io.Reader) iter.Seq[Fragment] {
	return func(yield func(Fragment) bool) {
		br := bufio.NewReaderSize(r, 64*1024)
		lineNo := 0
		for {
			line, tooLong, err := readLine(br, p.maxLine)
			if tooLong {
				lineNo++
				perr := &StreamParseError{Line: lineNo, Snippet: snippet(line), Err: ErrLineTooLong}
				if !yield(Fragment{Kind: FragmentMalformed, Line: lineNo, Err: perr}) {
					return
				}
			} else if len(line) > 0 {
				lineNo++
				res := p.ParseLine(line)
				switch res.Kind {
				case LineMalformed:
					perr := &StreamParseError{Line: lineNo, Snippet: snippet(line), Err: res.Err}
					if !yield(Fragment{Kind: FragmentMalformed, Line: lineNo, Err: perr}) {
						return
					}
				case LineEvent:
					for _, f := range res.Fragments {
						f.Line = lineNo
						if !yield(f) {
							return
						}
					}
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(Fragment{Kind: FragmentMalformed, Line: lineNo, Err: fmt.Errorf("read worker output: %w", err)})
				}
				return
			}
		}
	}
}

// readLine reads through the next newline. Lines longer than limit are
// consumed to their end but only a short prefix is kept, and tooLong is set.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := br.ReadSlice('\n')
		switch {
		case tooLong:
		case len(line)+len(chunk) > limit:
			tooLong = true
			if keep := 80 - len(line); keep > 0 {
				line = append(line, chunk[:min(keep, len(chunk))]...)
			}
		default:
			line = append(line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}

// errorMessage digs the message out of the shapes error events take:
// {"message": "..."}, {"error": "..."} or {"error": {"message": "..."}}.
func errorMessage(evt streamEvent) string {
	if len(evt.Error) > 0 {
		if s := rawString(evt.Error); s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(evt.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
	}
	if evt.Text != "" {
		return evt.Text
	}
	var withMessage struct {
		Message string `json:"message"`
	}
	if len(evt.Message) > 0 {
		if s := rawString(evt.Message); s != "" {
			return s
		}
		if err := json.Unmarshal(evt.Message, &withMessage); err == nil && withMessage.Message != "" {
			return withMessage.Message
		}
	}
	return "Unknown error"
}

// rawString decodes raw as a JSON string, returning "" for anything else.
func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || raw[0] != '"' {
		return ""
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func snippet(line []byte) string {
	s := strings.TrimSpace(string(line))
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
