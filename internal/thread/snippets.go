package thread

import (
	"errors"
	"strings"

	"github.com/castellan/mailroom/internal/store"
)

// expandInlineSnippets replaces {{trigger}} style tokens in a staff reply
// with snippet bodies. Unknown triggers are left as-is, or abort the reply
// with a ValidationError under strict mode.
func (m *Manager) expandInlineSnippets(body string) (string, error) {
	if !m.cfg.AllowSnippets || !m.cfg.AllowInlineSnippets {
		return body, nil
	}
	start, end := m.cfg.InlineSnippetStart, m.cfg.InlineSnippetEnd

	var out strings.Builder
	var unknown []string
	rest := body
	for {
		i := strings.Index(rest, start)
		if i == -1 {
			out.WriteString(rest)
			break
		}
		j := strings.Index(rest[i+len(start):], end)
		if j == -1 {
			out.WriteString(rest)
			break
		}

		trigger := rest[i+len(start) : i+len(start)+j]
		token := rest[i : i+len(start)+j+len(end)]
		out.WriteString(rest[:i])

		snippet, err := m.store.SnippetByTrigger(strings.TrimSpace(trigger))
		switch {
		case err == nil:
			out.WriteString(snippet.Body)
		case errors.Is(err, store.ErrNotFound):
			unknown = append(unknown, strings.TrimSpace(trigger))
			out.WriteString(token)
		default:
			return "", err
		}
		rest = rest[i+len(start)+j+len(end):]
	}

	if len(unknown) > 0 && m.cfg.ErrorOnUnknownInlineSnippet {
		return "", validationErrorf("unknown snippet%s: %s",
			plural(len(unknown)), strings.Join(unknown, ", "))
	}
	return out.String(), nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
