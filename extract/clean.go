package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/lkirchner/pizzakg/normalize"
)

// CleanContent normalizes the ingredient lists inside a fenced ```json
// block of model output and puts the cleaned JSON back inside the fence.
// Content without a fence is returned unchanged.
func CleanContent(content string, n *normalize.Normalizer) (string, error) {
	m := fenceRe.FindStringSubmatch(content)
	if len(m) < 2 {
		return content, nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &parsed); err != nil {
		return "", fmt.Errorf("fenced block is not valid JSON: %v", err)
	}

	clean := func(entry any) any {
		obj, ok := entry.(map[string]any)
		if !ok {
			return entry
		}
		raw, ok := obj["ingredients"].([]any)
		if !ok {
			return entry
		}
		items := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				items = append(items, s)
			}
		}
		obj["ingredients"] = n.Clean(items)
		return obj
	}

	switch v := parsed.(type) {
	case []any:
		for i := range v {
			v[i] = clean(v[i])
		}
		parsed = v
	default:
		parsed = clean(parsed)
	}

	pretty, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return "", fmt.Errorf("re-encoding cleaned JSON: %w", err)
	}
	return "```json\n" + string(pretty) + "\n```", nil
}

// CleanFile rewrites a batch-response file in place with normalized
// ingredient lists, preserving the original array/NDJSON layout. Envelopes
// whose content cannot be cleaned are left untouched; the count of cleaned
// envelopes is returned.
func CleanFile(path string, n *normalize.Normalizer) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	lines, shape, err := splitEnvelopes(data)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	out := make([]json.RawMessage, 0, len(lines))
	for _, line := range lines {
		var wrapper map[string]any
		if err := json.Unmarshal([]byte(line), &wrapper); err != nil {
			out = append(out, json.RawMessage(line))
			continue
		}
		if cleanEnvelope(wrapper, n) {
			cleaned++
		}
		enc, err := json.Marshal(wrapper)
		if err != nil {
			out = append(out, json.RawMessage(line))
			continue
		}
		out = append(out, enc)
	}

	var buf strings.Builder
	if shape == "array" {
		arr, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return 0, fmt.Errorf("encoding cleaned file: %w", err)
		}
		buf.Write(arr)
		buf.WriteByte('\n')
	} else {
		for _, line := range out {
			buf.Write(line)
			buf.WriteByte('\n')
		}
	}

	if err := os.WriteFile(path, []byte(buf.String()), 0644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	return cleaned, nil
}

// cleanEnvelope walks response.body.choices[*].message.content inside a
// decoded envelope and cleans each fenced content block in place.
func cleanEnvelope(wrapper map[string]any, n *normalize.Normalizer) bool {
	response, _ := wrapper["response"].(map[string]any)
	if response == nil {
		return false
	}
	body, _ := response["body"].(map[string]any)
	if body == nil {
		return false
	}
	choices, _ := body["choices"].([]any)

	changed := false
	for _, c := range choices {
		choice, _ := c.(map[string]any)
		if choice == nil {
			continue
		}
		msg, _ := choice["message"].(map[string]any)
		if msg == nil {
			continue
		}
		content, _ := msg["content"].(string)
		if content == "" {
			continue
		}
		cleaned, err := CleanContent(content, n)
		if err != nil || cleaned == content {
			continue
		}
		msg["content"] = cleaned
		changed = true
	}
	return changed
}
