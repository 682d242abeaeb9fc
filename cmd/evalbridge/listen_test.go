package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"worker-rpc/channel"
	"worker-rpc/evaluation"
	"worker-rpc/server"
	"worker-rpc/transport"
)

func TestSessionsStatusAndShutdown(t *testing.T) {
	live := &sessions{handles: make(map[*server.Handle]struct{})}

	a, b := transport.Pipe()
	h, err := evaluation.Expose(&evaluation.Holder{}, channel.New(a, channel.WithID("w-1"), channel.WithCloseGrace(20*time.Millisecond)))
	require.NoError(t, err)
	peer := channel.New(b, channel.WithCloseGrace(20*time.Millisecond))
	peer.Start()
	live.add(h)

	router := httprouter.New()
	router.GET("/status", live.status)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	var got struct{ Workers []string }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"w-1"}, got.Workers)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	live.shutdown(ctx)

	assert.Equal(t, channel.StateClosed, h.Channel().State())
	assert.Eventually(t, func() bool {
		live.mu.Lock()
		defer live.mu.Unlock()
		return len(live.handles) == 0
	}, time.Second, 5*time.Millisecond)
	<-peer.Done()
}
