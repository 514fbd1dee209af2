package messages

import "fmt"

// previewLen bounds quoted user text inside notification bodies.
const previewLen = 80

// ─── Snippet builders ────────────────────────────────────────────────────────

func SnippetShared(actor, snippetTitle string) (string, string) {
	return SnippetSharedTitle, fmt.Sprintf(SnippetSharedBody, actor, snippetTitle)
}

func SnippetCommented(actor, snippetTitle, comment string) (string, string) {
	return SnippetCommentedTitle, fmt.Sprintf(SnippetCommentedBody, actor, snippetTitle, Preview(comment))
}

func SnippetForked(actor, snippetTitle string) (string, string) {
	return SnippetForkedTitle, fmt.Sprintf(SnippetForkedBody, actor, snippetTitle)
}

// ─── Message builders ────────────────────────────────────────────────────────

func MessageReceived(sender, body string) (string, string) {
	return MessageReceivedTitle, fmt.Sprintf(MessageReceivedBody, sender, Preview(body))
}

// Preview shortens s to previewLen runes, marking the cut with an ellipsis.
func Preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen-1]) + "…"
}
