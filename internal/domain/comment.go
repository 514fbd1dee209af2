package domain

import (
	"time"

	"github.com/google/uuid"
)

// Comment is a remark on a snippet, optionally replying to another comment.
type Comment struct {
	ID        uuid.UUID  `json:"id"`
	SnippetID string     `json:"snippet_id"`
	AuthorID  string     `json:"author_id"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	Body      string     `json:"body"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c Comment) RecordID() string { return c.ID.String() }

// Unread is always false: comments carry no per-reader state.
func (c Comment) Unread() bool { return false }

func (c Comment) AsRead(time.Time) Comment { return c }

type CreateCommentRequest struct {
	SnippetID string     `json:"snippet_id"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	Body      string     `json:"body"`
}

func (r CreateCommentRequest) Placeholder(id uuid.UUID, now time.Time) Comment {
	return Comment{
		ID:        id,
		SnippetID: r.SnippetID,
		ParentID:  r.ParentID,
		Body:      r.Body,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type UpdateCommentRequest struct {
	Body *string `json:"body,omitempty"`
}
