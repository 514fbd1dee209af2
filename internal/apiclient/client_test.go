package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/realtime/internal/apiclient"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/messages"
)

type notifications = apiclient.Resource[domain.Notification, domain.CreateNotificationRequest, domain.UpdateNotificationRequest]

func newNotifications(t *testing.T, h http.HandlerFunc) *notifications {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := apiclient.New(srv.URL, apiclient.WithToken("tok"), apiclient.WithTenant("acme"))
	return apiclient.NewResource[domain.Notification, domain.CreateNotificationRequest, domain.UpdateNotificationRequest](c, domain.ResourceNotifications)
}

func TestListSendsFilterAndCredentials(t *testing.T) {
	id := uuid.New()
	api := newNotifications(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/notifications", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "acme", r.Header.Get("X-Tenant-Key"))
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "20", q.Get("pageSize"))
		assert.Equal(t, "false", q.Get("isRead"))
		assert.Equal(t, "created_at", q.Get("sortBy"))

		_ = json.NewEncoder(w).Encode(domain.Page[domain.Notification]{
			Items:      []domain.Notification{{ID: id, Title: "hi"}},
			TotalCount: 45, Page: 2, PageSize: 20,
		})
	})

	unread := false
	f := domain.DefaultFilter().WithPage(2)
	f.IsRead = &unread
	page, err := api.List(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, id, page.Items[0].ID)
	assert.True(t, page.HasMore())
}

func TestCreateAndMarkRead(t *testing.T) {
	readIDs := make(chan []string, 1)
	api := newNotifications(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/notifications":
			var in domain.CreateNotificationRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(domain.Notification{ID: uuid.New(), Title: in.Title, Status: domain.StatusActive})
		case r.Method == http.MethodPost && r.URL.Path == "/notifications/read":
			var body struct{ IDs []string }
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			readIDs <- body.IDs
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	n, err := api.Create(context.Background(), domain.CreateNotificationRequest{Title: "deploy done"})
	require.NoError(t, err)
	assert.Equal(t, "deploy done", n.Title)
	assert.Equal(t, domain.StatusActive, n.Status)

	require.NoError(t, api.MarkRead(context.Background(), []string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, <-readIDs)
}

func TestErrorTaxonomy(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnprocessableEntity)
	api := newNotifications(t, func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		w.WriteHeader(code)
		switch code {
		case http.StatusUnprocessableEntity:
			_, _ = w.Write([]byte(`{"message":"title is required","fields":{"title":"required"}}`))
		default:
			_, _ = w.Write([]byte(`upstream exploded`))
		}
	})

	_, err := api.Get(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, apiclient.IsValidation(err))
	assert.False(t, apiclient.IsRetryable(err))
	assert.Equal(t, "title is required", apiclient.UserMessage(err))

	var apiErr *apiclient.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "required", apiErr.Fields["title"])

	status.Store(http.StatusBadGateway)
	_, err = api.Get(context.Background(), "x")
	assert.True(t, apiclient.IsRetryable(err))
	assert.Equal(t, messages.ErrServer, apiclient.UserMessage(err))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream exploded", apiErr.Message)

	status.Store(http.StatusNotFound)
	err = api.Delete(context.Background(), "x")
	assert.False(t, apiclient.IsRetryable(err))
	assert.Equal(t, messages.ErrNotFound, apiclient.UserMessage(err))
}

func TestTransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := apiclient.New(srv.URL, apiclient.WithHTTPClient(&http.Client{Timeout: time.Second}))
	api := apiclient.NewResource[domain.Comment, domain.CreateCommentRequest, domain.UpdateCommentRequest](c, domain.ResourceComments)

	err := api.Delete(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, apiclient.IsRetryable(err))
	assert.Equal(t, messages.ErrOffline, apiclient.UserMessage(err))

	assert.False(t, apiclient.IsRetryable(context.Canceled))
	assert.False(t, apiclient.IsRetryable(errors.New("plain")))
}
