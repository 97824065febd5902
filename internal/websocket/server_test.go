package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/aemet-connector/internal/websocket"
	"github.com/yegors/aemet-connector/pkg/logger"
)

func startServer(t *testing.T) (*websocket.Server, string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := websocket.NewServer(nil, logger.NewNop())
	go s.Run(ctx)

	ts := httptest.NewServer(http.HandlerFunc(s.HandleConnection))
	t.Cleanup(ts.Close)

	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, s *websocket.Server, url string, want int) *gorilla.Conn {
	t.Helper()

	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "Setup: failed to dial")
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return s.ClientCount() == want }, time.Second, 10*time.Millisecond, "Setup: client was not registered")
	return conn
}

func TestBroadcast(t *testing.T) {
	t.Parallel()

	s, url := startServer(t)
	conn := dial(t, s, url, 1)

	s.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeDatasetRefreshed,
		Data: map[string]any{"dataset": "forecast", "rows": 7},
	})

	var got websocket.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, websocket.MessageTypeDatasetRefreshed, got.Type)
	assert.Equal(t, "forecast", got.Data["dataset"])
}

func TestSubscriptionFiltersDatasets(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		subscribe []string
	}{
		"English name":          {subscribe: []string{"observation"}},
		"Spanish wire name":     {subscribe: []string{"observacion"}},
		"Accented and cased":    {subscribe: []string{"Observación"}},
		"Unknown names ignored": {subscribe: []string{"radar", "observacion"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, url := startServer(t)
			conn := dial(t, s, url, 1)

			require.NoError(t, conn.WriteJSON(websocket.Message{
				Type: websocket.MessageTypeSubscribe,
				Data: map[string]any{"datasets": tc.subscribe},
			}))

			// The subscription is applied asynchronously; repeat until a round arrives without stations
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
			for round := range 100 {
				s.Broadcast(&websocket.Message{Type: websocket.MessageTypeDatasetFailed, Data: map[string]any{"dataset": "stations", "round": round}})
				s.Broadcast(&websocket.Message{Type: websocket.MessageTypeDatasetRefreshed, Data: map[string]any{"dataset": "observation", "round": round}})

				sawStations := false
				for {
					var got websocket.Message
					require.NoError(t, conn.ReadJSON(&got))
					if got.Data["dataset"] == "stations" {
						sawStations = true
						continue
					}
					assert.Equal(t, "observation", got.Data["dataset"])
					break
				}
				if !sawStations {
					return
				}
				time.Sleep(10 * time.Millisecond)
			}
			t.Fatal("Subscription never took effect")
		})
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	t.Parallel()

	s, url := startServer(t)
	conn := dial(t, s, url, 1)

	conn.Close()
	assert.Eventually(t, func() bool { return s.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
