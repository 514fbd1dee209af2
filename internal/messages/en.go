package messages

// ─── Snippets ────────────────────────────────────────────────────────────────

const (
	SnippetSharedTitle = "A snippet was shared with you"
	SnippetSharedBody  = "%s shared '%s' with you."

	SnippetCommentedTitle = "New comment on your snippet"
	SnippetCommentedBody  = "%s commented on '%s': %s"

	SnippetForkedTitle = "Your snippet was forked"
	SnippetForkedBody  = "%s forked '%s'."
)

// ─── Messages ────────────────────────────────────────────────────────────────

const (
	MessageReceivedTitle = "New message"
	MessageReceivedBody  = "%s: %s"
)

// ─── User-facing errors ──────────────────────────────────────────────────────

const (
	ErrOffline         = "You appear to be offline. Your change will be retried when the connection returns."
	ErrSessionExpired  = "Your session has expired. Please sign in again."
	ErrForbidden       = "You do not have permission to do that."
	ErrNotFound        = "This item no longer exists."
	ErrConflict        = "This item was changed by someone else. Refresh and try again."
	ErrInvalidInput    = "Some fields are invalid."
	ErrTooManyRequests = "Too many requests. Try again in a moment."
	ErrServer          = "The server is having trouble. Try again later."
	ErrUnknown         = "Something went wrong."
)
