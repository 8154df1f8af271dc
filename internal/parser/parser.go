// Package parser normalizes raw note text into a structured record.
// Parsing is total: malformed metadata degrades to the no-header path
// instead of returning an error.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/ansuz/internal/models"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	metaItemRe = regexp.MustCompile(`^-\s+([A-Za-z][A-Za-z0-9_-]*)\s*:\s*(.*)$`)
)

// Result is the normalized record produced from raw note text.
// Extra preserves unrecognized header keys verbatim.
type Result struct {
	Title  string
	Tags   []string
	Status string
	Body   string
	Links  []string
	Extra  map[string]any
}

// Parse extracts title, tags, status, body, and wikilinks from raw text.
// Two header conventions are recognized: a YAML frontmatter block between
// leading --- fences, and an inline heading-plus-list header
// ("# Title" followed by "- Key: value" items). If neither is present
// the whole text is body and the title defaults to the first line.
func Parse(data []byte) *Result {
	r := &Result{Status: models.StatusDraft}

	body, handled := splitFrontmatter(data, r)
	if !handled {
		body, handled = splitInlineHeader(data, r)
	}
	if !handled {
		body = string(data)
		r.Title = firstLine(body)
	}

	r.Body = body
	r.Links = extractLinks(body)
	r.Tags = mergeTags(r.Tags, extractInlineTags(body))
	return r
}

// splitFrontmatter handles the YAML frontmatter convention. It returns
// handled=false when there is no frontmatter block or the block is
// malformed (unterminated fence, invalid YAML).
func splitFrontmatter(data []byte, r *Result) (string, bool) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return "", false
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// Unterminated fence.
		return "", false
	}

	var fm map[string]any
	if err := yaml.Unmarshal(rest[:idx], &fm); err != nil || fm == nil {
		return "", false
	}

	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	for k, v := range fm {
		switch strings.ToLower(k) {
		case "title":
			if s, ok := v.(string); ok {
				r.Title = strings.TrimSpace(s)
			}
		case "tags":
			r.Tags = mergeTags(r.Tags, yamlTags(v))
		case "status":
			if s, ok := v.(string); ok {
				r.Status = normalizeStatus(s)
			}
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]any)
			}
			r.Extra[k] = v
		}
	}

	if r.Title == "" {
		r.Title = firstLine(body)
	}
	return body, true
}

// splitInlineHeader handles the heading-plus-list convention: a leading
// "# Title" line followed by "- Key: value" items up to the first blank
// line. The list items are consumed as metadata; everything after the
// blank line is body.
func splitInlineHeader(data []byte, r *Result) (string, bool) {
	text := strings.TrimLeft(string(data), "\n\r")
	if !strings.HasPrefix(text, "# ") {
		return "", false
	}

	lines := strings.Split(text, "\n")
	r.Title = strings.TrimSpace(strings.TrimPrefix(lines[0], "# "))

	i := 1
	sawMeta := false
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			break
		}
		m := metaItemRe.FindStringSubmatch(line)
		if m == nil {
			break
		}
		sawMeta = true
		key, value := strings.ToLower(m[1]), strings.TrimSpace(m[2])
		switch key {
		case "tags":
			r.Tags = mergeTags(r.Tags, splitCSV(value))
		case "status":
			r.Status = normalizeStatus(value)
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]any)
			}
			r.Extra[m[1]] = value
		}
	}
	if !sawMeta {
		// A bare heading is the no-header path with a derived title.
		return text, true
	}

	body := strings.TrimLeft(strings.Join(lines[i:], "\n"), "\n\r")
	return body, true
}

// extractLinks returns deduplicated wikilink targets, normalising aliases.
func extractLinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := m[1]
		// Handle aliases: [[Target|Alias]] → Target.
		if i := strings.Index(target, "|"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// extractInlineTags collects #tags from the body.
func extractInlineTags(body string) []string {
	matches := tagRe.FindAllStringSubmatch(body, -1)
	var out []string
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// mergeTags appends extra tags to base, dropping duplicates and empties.
func mergeTags(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	var out []string
	for _, t := range base {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range extra {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func yamlTags(v any) []string {
	switch t := v.(type) {
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return splitCSV(t)
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeStatus maps a header status value to a known status; unknown
// values degrade to draft.
func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if models.ValidStatus(s) {
		return s
	}
	return models.StatusDraft
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "# "))
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
