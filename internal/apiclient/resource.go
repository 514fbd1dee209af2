package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"vn.io.arda/realtime/internal/domain"
)

// Resource is the REST binding of one record collection: T is the record,
// C the create body and U the patch body.
type Resource[T, C, U any] struct {
	c    *Client
	path string
}

func NewResource[T, C, U any](c *Client, resource domain.Resource) *Resource[T, C, U] {
	return &Resource[T, C, U]{c: c, path: "/" + string(resource)}
}

func (r *Resource[T, C, U]) List(ctx context.Context, f domain.Filter) (domain.Page[T], error) {
	var page domain.Page[T]
	err := r.c.do(ctx, http.MethodGet, r.path, FilterQuery(f), nil, &page)
	return page, err
}

func (r *Resource[T, C, U]) Get(ctx context.Context, id string) (T, error) {
	var rec T
	err := r.c.do(ctx, http.MethodGet, r.path+"/"+url.PathEscape(id), nil, nil, &rec)
	return rec, err
}

func (r *Resource[T, C, U]) Create(ctx context.Context, in C) (T, error) {
	var rec T
	err := r.c.do(ctx, http.MethodPost, r.path, nil, in, &rec)
	return rec, err
}

func (r *Resource[T, C, U]) Update(ctx context.Context, id string, patch U) (T, error) {
	var rec T
	err := r.c.do(ctx, http.MethodPatch, r.path+"/"+url.PathEscape(id), nil, patch, &rec)
	return rec, err
}

func (r *Resource[T, C, U]) Delete(ctx context.Context, id string) error {
	return r.c.do(ctx, http.MethodDelete, r.path+"/"+url.PathEscape(id), nil, nil, nil)
}

// MarkRead flags ids as read in one request.
func (r *Resource[T, C, U]) MarkRead(ctx context.Context, ids []string) error {
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	return r.c.do(ctx, http.MethodPost, r.path+"/read", nil, body, nil)
}

func (r *Resource[T, C, U]) MarkAllRead(ctx context.Context) error {
	return r.c.do(ctx, http.MethodPost, r.path+"/read-all", nil, nil, nil)
}
