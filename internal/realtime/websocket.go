package realtime

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketDialer dials the hub with gorilla/websocket, passing the bearer
// token and tenant the same way the REST client does.
type WebSocketDialer struct {
	URL       string
	Token     string
	TenantKey string
	Dialer    *websocket.Dialer
}

func (d WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	if d.TenantKey != "" {
		header.Set("X-Tenant-Key", d.TenantKey)
	}

	conn, _, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
