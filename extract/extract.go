// Package extract parses OpenAI batch-response files into structured menu
// item records. Each response line wraps the model's answer several layers
// deep (envelope -> body -> choices -> message content), and the content
// itself may be raw JSON, fenced in a ```json block, or an array of several
// menu items. All of that is unwrapped here; callers see either accepted
// records or an explicit parse failure carrying the raw text.
package extract

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// MenuItem is one classified menu item accepted from an LLM response.
type MenuItem struct {
	Name        string   `json:"name,omitempty"`
	IsPizza     bool     `json:"is_pizza"`
	Ingredients []string `json:"ingredients"`
}

// ParseFailure records a response line that could not be parsed. The raw
// text is kept so the validator can show it next to the source row.
type ParseFailure struct {
	Raw     string `json:"raw"`
	Message string `json:"error"`
}

// Result is the outcome of extracting one response envelope: zero or more
// accepted items, or a failure. A Result with no items and no failure means
// the model classified the row as not-a-pizza.
type Result struct {
	CustomID string
	Items    []MenuItem
	Failure  *ParseFailure
}

// Failed reports whether the response line was unparseable, as opposed to
// parseable but containing no pizza items.
func (r Result) Failed() bool { return r.Failure != nil }

// envelope mirrors the parts of the batch-API response line we consume.
type envelope struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		Body *struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
}

// fenceRe matches a ```json (or bare ```) fenced block and captures its body.
var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// StripFences removes markdown code fences from model output. If no
// complete fence is present, stray fence markers are dropped and the
// remainder returned as-is.
func StripFences(content string) string {
	if m := fenceRe.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	return strings.TrimSpace(content)
}

// Extract parses one batch-response line. It never returns an error: any
// malformed input becomes a Result with a ParseFailure so a bad line cannot
// abort the run and callers can still distinguish it from "no pizza items".
func Extract(rawLine string) Result {
	var env envelope
	if err := json.Unmarshal([]byte(rawLine), &env); err != nil {
		return Result{Failure: &ParseFailure{Raw: rawLine, Message: fmt.Sprintf("invalid response envelope: %v", err)}}
	}

	res := Result{CustomID: env.CustomID}
	if env.Response == nil || env.Response.Body == nil || len(env.Response.Body.Choices) == 0 {
		res.Failure = &ParseFailure{Raw: rawLine, Message: "missing response.body.choices in envelope"}
		return res
	}

	content := env.Response.Body.Choices[0].Message.Content
	items, err := parseContent(content)
	if err != nil {
		res.Failure = &ParseFailure{Raw: content, Message: err.Error()}
		return res
	}
	res.Items = items
	return res
}

// parseContent unwraps fenced model output and decodes it as either a single
// menu-item object or an array of them. Objects that do not declare
// themselves a pizza with a list of ingredients are silently skipped; they
// are valid answers, just not ones we keep.
func parseContent(content string) ([]MenuItem, error) {
	text := StripFences(content)
	if text == "" {
		return nil, fmt.Errorf("empty message content")
	}

	var objects []json.RawMessage
	switch text[0] {
	case '[':
		if err := json.Unmarshal([]byte(text), &objects); err != nil {
			return nil, fmt.Errorf("invalid JSON array in message content: %v", err)
		}
	default:
		var single json.RawMessage
		if err := json.Unmarshal([]byte(text), &single); err != nil {
			return nil, fmt.Errorf("invalid JSON in message content: %v", err)
		}
		objects = []json.RawMessage{single}
	}

	var items []MenuItem
	for _, obj := range objects {
		if !Accepted(obj) {
			continue
		}
		var item MenuItem
		if err := json.Unmarshal(obj, &item); err != nil {
			// Accepted already validated the shape; this cannot realistically fail.
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// RowIndex recovers the tabular row index from a custom_id of the form
// "<index>_<slug>" (a bare "<index>" also parses). Row matching is always
// done through this id, never by line position.
func RowIndex(customID string) (int, error) {
	head := customID
	if i := strings.IndexByte(customID, '_'); i >= 0 {
		head = customID[:i]
	}
	n, err := strconv.Atoi(head)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("custom_id %q has no leading row index", customID)
	}
	return n, nil
}

// ReadResponses reads a whole response file, which is either a JSON array of
// envelopes or NDJSON with one envelope per line. The array form is tried
// first; on failure the input is re-read line by line. Results are keyed by
// the row index from each envelope's custom_id; envelopes without a usable
// id are returned separately as failures.
func ReadResponses(r io.Reader) (map[int]Result, []Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading responses: %w", err)
	}

	lines, shape, err := splitEnvelopes(data)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("extract: detected response file shape", "shape", shape, "envelopes", len(lines))

	byRow := make(map[int]Result, len(lines))
	var unmatched []Result
	for _, line := range lines {
		res := Extract(line)
		idx, err := RowIndex(res.CustomID)
		if err != nil {
			if res.Failure == nil {
				res.Failure = &ParseFailure{Raw: line, Message: err.Error()}
			}
			unmatched = append(unmatched, res)
			continue
		}
		if prev, dup := byRow[idx]; dup {
			slog.Warn("extract: duplicate custom_id row index, keeping first",
				"row", idx, "kept", prev.CustomID, "dropped", res.CustomID)
			continue
		}
		byRow[idx] = res
	}
	return byRow, unmatched, nil
}

// splitEnvelopes returns the raw envelope texts of a response file along
// with the shape that matched ("array" or "ndjson").
func splitEnvelopes(data []byte) ([]string, string, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var raws []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &raws); err == nil {
			lines := make([]string, len(raws))
			for i, r := range raws {
				lines[i] = string(r)
			}
			return lines, "array", nil
		}
		// Fall through: a file starting with '[' that is not a valid array
		// is still given the NDJSON reader a chance.
	}

	var lines []string
	sc := bufio.NewScanner(strings.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, "", fmt.Errorf("scanning responses: %w", err)
	}
	return lines, "ndjson", nil
}
