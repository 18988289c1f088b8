// Package extract pulls plain text and file ids out of remote payloads.
// All functions are pure and operate on remote.Node trees.
package extract

import (
	"strings"

	"github.com/zulandar/orquestrix/internal/remote"
)

// NoAnswer is the text used when a payload yields nothing readable.
const NoAnswer = "(Keine Antwort erhalten)"

var fallbackKeys = []string{"output_text", "text", "content", "message"}

// ResponseText extracts the answer text of a respond payload. An error
// object wins over any output; otherwise every string under "text" or
// string-valued "content" keys in the output tree is collected once, in
// first-seen order. Top-level fallback fields and finally NoAnswer follow.
func ResponseText(body remote.Node) string {
	if msg, ok := ErrorText(body); ok {
		return msg
	}
	if body.Has("output") {
		if text := strings.Join(collectText(body.Get("output")), "\n"); text != "" {
			return text
		}
	}
	for _, key := range fallbackKeys {
		if s, ok := body.Get(key).Str(); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return NoAnswer
}

// ErrorText formats the payload's error field, if one is set.
func ErrorText(body remote.Node) (string, bool) {
	errNode := body.Get("error")
	switch errNode.Kind() {
	case remote.Scalar:
		s, ok := errNode.Str()
		if !ok || strings.TrimSpace(s) == "" {
			return "", false
		}
		return "Fehler: " + s, true
	case remote.Mapping:
		if errNode.Len() == 0 {
			return "", false
		}
	default:
		return "", false
	}

	msg := errNode.Get("message").Text()
	if msg == "" {
		msg = errNode.Get("error").Text()
	}
	if msg == "" {
		msg = errNode.String()
	}
	code := errNode.Get("code").Text()
	if code == "" {
		code = errNode.Get("status").Text()
	}
	typ := errNode.Get("type").Text()

	var parts []string
	if code != "" {
		parts = append(parts, "code="+code)
	}
	if typ != "" {
		parts = append(parts, "type="+typ)
	}
	if len(parts) == 0 {
		return "Fehler: " + msg, true
	}
	return "Fehler: " + msg + " (" + strings.Join(parts, ", ") + ")", true
}

// collectText gathers the trimmed strings found under "text" or "content"
// keys, de-duplicated in first-seen order. A mapping's own values are
// taken before those of its children.
func collectText(root remote.Node) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(n remote.Node)
	walk = func(n remote.Node) {
		switch n.Kind() {
		case remote.Mapping:
			for _, key := range n.Keys() {
				if key != "text" && key != "content" {
					continue
				}
				s, ok := n.Get(key).Str()
				if !ok {
					continue
				}
				if s = strings.TrimSpace(s); s != "" && !seen[s] {
					seen[s] = true
					out = append(out, s)
				}
			}
			for _, key := range n.Keys() {
				walk(n.Get(key))
			}
		case remote.Sequence:
			for _, item := range n.Items() {
				walk(item)
			}
		}
	}
	walk(root)
	return out
}

// FileIDs collects every string found under a "file_id" key anywhere in
// the tree, de-duplicated in first-seen order.
func FileIDs(root remote.Node) []string {
	var out []string
	seen := make(map[string]bool)
	root.Walk(func(key string, v remote.Node) {
		if key != "file_id" {
			return
		}
		if s, ok := v.Str(); ok && s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	})
	return out
}

// MessageText concatenates the textual content parts of a thread message.
// Both "text" and "output_text" part types are read, with the value either
// nested under text.value or given directly as a string.
func MessageText(msg remote.Node) string {
	var parts []string
	for _, part := range msg.Get("content").Items() {
		switch part.Get("type").Text() {
		case "text", "output_text":
		default:
			continue
		}
		text := part.Get("text")
		if s, ok := text.Str(); ok {
			parts = append(parts, s)
			continue
		}
		if s, ok := text.Get("value").Str(); ok {
			parts = append(parts, s)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

var attachmentKeys = []string{"file_id", "id", "openai_file_id"}

// MessageFileIDs returns the file ids a thread message references through
// its attachments, file_path or image_file content parts, and file_path
// annotations on text parts.
func MessageFileIDs(msg remote.Node) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, att := range msg.Get("attachments").Items() {
		for _, key := range attachmentKeys {
			if id := att.Get(key).Text(); id != "" {
				add(id)
				break
			}
		}
	}
	for _, part := range msg.Get("content").Items() {
		add(part.Path("file_path", "file_id").Text())
		add(part.Path("image_file", "file_id").Text())
		for _, ann := range part.Path("text", "annotations").Items() {
			add(ann.Path("file_path", "file_id").Text())
		}
	}
	return out
}

// Dedupe returns ids without empty strings or repeats, keeping order.
func Dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// JoinOrDash joins ids with ", " or returns "-" when there are none.
func JoinOrDash(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ", ")
}

// FooterHeading opens the resource footer appended to every answer.
const FooterHeading = "Verwendete Ressourcen:"

// AppendFooter appends the resource footer to text: a blank line, a rule,
// the heading and one line per entry.
func AppendFooter(text string, lines ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(text, " \t\r\n"))
	b.WriteString("\n\n---\n")
	b.WriteString(FooterHeading)
	for _, l := range lines {
		b.WriteString("\n")
		b.WriteString(l)
	}
	return b.String()
}
