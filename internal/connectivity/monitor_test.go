package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetNotifiesOnlyOnTransition(t *testing.T) {
	m := NewMonitor(true)
	var changes []bool
	m.OnChange(func(online bool) { changes = append(changes, online) })

	m.Set(true)
	m.Set(false)
	m.Set(false)
	m.Set(true)

	assert.Equal(t, []bool{false, true}, changes)
	assert.True(t, m.Online())
}

func TestRunFollowsProbe(t *testing.T) {
	m := NewMonitor(true)
	var fail atomic.Bool
	fail.Store(true)
	probe := func(context.Context) error {
		if fail.Load() {
			return errors.New("unreachable")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, probe, 10*time.Millisecond)

	require.Eventually(t, func() bool { return !m.Online() }, time.Second, 5*time.Millisecond)
	fail.Store(false)
	require.Eventually(t, m.Online, time.Second, 5*time.Millisecond)
}

func TestHTTPProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	probe := HTTPProbe(srv.Client(), srv.URL+"/health")
	assert.NoError(t, probe(context.Background()))

	status.Store(http.StatusUnauthorized)
	assert.NoError(t, probe(context.Background()), "an auth failure still proves reachability")

	status.Store(http.StatusBadGateway)
	assert.Error(t, probe(context.Background()))
}
