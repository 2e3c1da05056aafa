package agent

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Result is the terminal output of one agent run.
type Result struct {
	Text      string
	SessionID string
}

// sessionFields are the candidate token fields, in priority order. The
// first non-empty match across all records wins and is never overwritten.
var sessionFields = []string{
	"session_id",
	"sessionId",
	"conversation_id",
	"conversationId",
	"thread_id",
}

// textFields are the per-record text fields, in priority order.
var textFields = []string{"message", "content", "result", "text"}

// controlBytes matches ANSI escape sequences and stray terminal control
// bytes that the PTY path mixes into the JSON stream.
var controlBytes = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|[\x00-\x08\x0b\x0c\x0e-\x1f]`)

func stripControl(s string) string {
	if !strings.ContainsAny(s, "\x1b\x00\x07\x08") {
		return s
	}
	return controlBytes.ReplaceAllString(s, "")
}

// ParseBuffer parses one complete buffered output string. Returns nil for
// empty or whitespace-only input. Multi-line input is treated as
// line-delimited JSON records; single-line input is parsed as one record,
// falling back to the raw trimmed string when it is not JSON.
func ParseBuffer(raw string) *Result {
	s := strings.TrimSpace(stripControl(raw))
	if s == "" {
		return nil
	}

	if strings.Contains(s, "\n") {
		return parseRecords(s)
	}

	if gjson.Valid(s) {
		rec := gjson.Parse(s)
		res := &Result{
			Text:      recordText(rec),
			SessionID: sessionToken(rec),
		}
		if res.Text == "" && res.SessionID == "" {
			return nil
		}
		return res
	}

	return &Result{Text: s}
}

// parseRecords handles JSONL input. Malformed lines are skipped; if no
// line parses at all, the whole input is returned as raw text.
func parseRecords(s string) *Result {
	var (
		texts      []string
		resultText string
		sessionID  string
		anyJSON    bool
	)

	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !gjson.Valid(line) {
			continue
		}
		anyJSON = true
		rec := gjson.Parse(line)

		if sessionID == "" {
			sessionID = sessionToken(rec)
		}

		if recordVisible(rec) {
			if t := recordText(rec); t != "" {
				texts = append(texts, t)
			}
		} else if resultText == "" && rec.Get("type").Str == "result" {
			// The final result record restates the visible text; keep it
			// only as a fallback when no visible record carried any.
			if r := rec.Get("result"); r.Type == gjson.String {
				resultText = r.Str
			}
		}
	}

	if !anyJSON {
		return &Result{Text: s}
	}

	text := strings.Join(texts, "\n")
	if text == "" {
		text = resultText
	}
	if text == "" && sessionID == "" {
		return nil
	}
	return &Result{Text: text, SessionID: sessionID}
}

// recordVisible reports whether a record carries assistant-visible text,
// as opposed to internal reasoning or control events.
func recordVisible(rec gjson.Result) bool {
	switch rec.Get("type").Str {
	case "assistant", "message", "agent_message", "text":
		return true
	case "item.completed":
		return rec.Get("item.type").Str == "agent_message"
	case "":
		// Plain records without a type marker, keyed by text fields only.
		for _, f := range textFields {
			if rec.Get(f).Exists() {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// recordText extracts the text of one record. For item-wrapping records
// the inner item is unwrapped first.
func recordText(rec gjson.Result) string {
	if rec.Get("type").Str == "item.completed" {
		rec = rec.Get("item")
	}
	return fieldText(rec)
}

// fieldText applies the field precedence, then the generic fallback for
// typed-item arrays and nested message/content objects. Textual pieces
// within one record are joined with no separator.
func fieldText(rec gjson.Result) string {
	for _, f := range textFields {
		v := rec.Get(f)
		if v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}

	if msg := rec.Get("message"); msg.IsObject() {
		if t := fieldText(msg); t != "" {
			return t
		}
	}
	if arr := rec.Get("content"); arr.IsArray() {
		return joinTextItems(arr)
	}
	return ""
}

func joinTextItems(arr gjson.Result) string {
	var b strings.Builder
	arr.ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").Str == "text" {
			if t := item.Get("text"); t.Type == gjson.String {
				b.WriteString(t.Str)
			}
		}
		return true
	})
	return b.String()
}

// sessionToken scans the candidate token fields of one record.
func sessionToken(rec gjson.Result) string {
	for _, f := range sessionFields {
		v := rec.Get(f)
		if v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// DeltaFunc receives incremental text as it parses: the new delta and the
// accumulated text so far.
type DeltaFunc func(delta, accumulated string)

// DefaultEmitInterval throttles delta callbacks.
const DefaultEmitInterval = time.Second

// StreamParser is the incremental counterpart of ParseBuffer. It carries a
// partial-line remainder between chunks, accumulates assistant-visible
// text, and throttles delta emission. The same parser serves the pipe and
// the pseudo-terminal execution paths.
type StreamParser struct {
	carry     []byte
	raw       bytes.Buffer
	acc       strings.Builder
	pending   strings.Builder
	sessionID string
	result    string

	interval time.Duration
	lastEmit time.Time
	onDelta  DeltaFunc
	now      func() time.Time
}

// NewStreamParser creates a streaming parser. interval <= 0 uses
// DefaultEmitInterval. onDelta may be nil.
func NewStreamParser(interval time.Duration, onDelta DeltaFunc) *StreamParser {
	if interval <= 0 {
		interval = DefaultEmitInterval
	}
	return &StreamParser{
		interval: interval,
		onDelta:  onDelta,
		now:      time.Now,
	}
}

// Feed consumes one raw output chunk. Complete lines are parsed
// immediately; the trailing partial line carries over to the next chunk.
func (p *StreamParser) Feed(chunk []byte) {
	p.raw.Write(chunk)

	data := append(p.carry, chunk...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		p.consumeLine(string(data[:idx]))
		data = data[idx+1:]
	}
	p.carry = data
}

// SessionID returns the first-seen session token, if any.
func (p *StreamParser) SessionID() string {
	return p.sessionID
}

// Accumulated returns the assistant-visible text parsed so far.
func (p *StreamParser) Accumulated() string {
	return p.acc.String()
}

// Finish consumes any trailing partial line, flushes the remaining delta,
// and returns the reconciled result: incrementally parsed text is
// authoritative; otherwise everything captured is re-parsed whole-buffer.
// Returns nil when nothing usable was produced.
func (p *StreamParser) Finish() *Result {
	if len(p.carry) > 0 {
		p.consumeLine(string(p.carry))
		p.carry = nil
	}
	p.flush()

	if p.acc.Len() > 0 {
		return &Result{Text: p.acc.String(), SessionID: p.sessionID}
	}
	if p.result != "" {
		return &Result{Text: p.result, SessionID: p.sessionID}
	}

	res := ParseBuffer(p.raw.String())
	if res != nil && res.SessionID == "" {
		res.SessionID = p.sessionID
	}
	return res
}

// consumeLine parses one complete line. Malformed lines never abort the
// stream; they are skipped silently.
func (p *StreamParser) consumeLine(line string) {
	line = strings.TrimSpace(stripControl(line))
	if line == "" || !gjson.Valid(line) {
		return
	}
	rec := gjson.Parse(line)

	if p.sessionID == "" {
		p.sessionID = sessionToken(rec)
	}

	if recordVisible(rec) {
		if t := recordText(rec); t != "" {
			if p.acc.Len() > 0 {
				p.acc.WriteString("\n")
				p.pending.WriteString("\n")
			}
			p.acc.WriteString(t)
			p.pending.WriteString(t)
			p.maybeEmit()
		}
		return
	}

	if p.result == "" && rec.Get("type").Str == "result" {
		if r := rec.Get("result"); r.Type == gjson.String {
			p.result = r.Str
		}
	}
}

// maybeEmit invokes the delta callback at most once per interval.
func (p *StreamParser) maybeEmit() {
	if p.onDelta == nil || p.pending.Len() == 0 {
		return
	}
	now := p.now()
	if now.Sub(p.lastEmit) < p.interval {
		return
	}
	p.lastEmit = now
	p.onDelta(p.pending.String(), p.acc.String())
	p.pending.Reset()
}

// flush emits any remaining accumulated delta regardless of throttling.
func (p *StreamParser) flush() {
	if p.onDelta == nil || p.pending.Len() == 0 {
		return
	}
	p.lastEmit = p.now()
	p.onDelta(p.pending.String(), p.acc.String())
	p.pending.Reset()
}
