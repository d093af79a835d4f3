package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"UsdnLedger/internal/event"
	"UsdnLedger/internal/observability"

	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventHub_StreamsFilteredEvents(t *testing.T) {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	hub := NewEventHub(16, metrics, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	all := dialHub(t, srv, "")
	funding := dialHub(t, srv, "types=FundingApplied")
	require.Eventually(t, func() bool {
		return promtest.ToFloat64(metrics.WSClients) == 2
	}, time.Second, 10*time.Millisecond)

	hub.Emit(&event.TickLiquidated{Meta: event.Meta{Sequence: 1}, Tick: 5})
	hub.Emit(&event.FundingApplied{Meta: event.Meta{Sequence: 2}, Price: sdkmath.NewInt(2_000)})

	read := func(conn *websocket.Conn) event.EventEnvelope {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env event.EventEnvelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	}

	assert.Equal(t, "TickLiquidated", read(all).EventType)
	assert.Equal(t, "FundingApplied", read(all).EventType)

	env := read(funding)
	assert.Equal(t, "FundingApplied", env.EventType)
	assert.Equal(t, uint64(2), env.Sequence)

	decoded, err := event.Decode(env.EventType, env.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000), decoded.(*event.FundingApplied).Price.Int64())
}

func TestEventHub_ClosesClientsOnShutdown(t *testing.T) {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	hub := NewEventHub(16, metrics, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv, "")
	require.Eventually(t, func() bool {
		return promtest.ToFloat64(metrics.WSClients) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestEventHub_EmitNeverBlocks(t *testing.T) {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	hub := NewEventHub(1, metrics, zerolog.Nop()) // not running

	hub.Emit(&event.FundingApplied{Meta: event.Meta{Sequence: 1}})
	hub.Emit(&event.FundingApplied{Meta: event.Meta{Sequence: 2}})

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.PublishErrors.WithLabelValues("ws")))
}
