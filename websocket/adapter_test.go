package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanner-bridge/batch"
	"scanner-bridge/domain"
	"scanner-bridge/hub"
	"scanner-bridge/liveness"
	"scanner-bridge/protocol"
)

type recordingConsumer struct {
	batches [][]string
	mu      sync.Mutex
}

func (r *recordingConsumer) Consume(_ context.Context, codes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, codes)
	return nil
}

func (r *recordingConsumer) getBatches() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches
}

type bridge struct {
	registry *hub.Hub
	consumer *recordingConsumer
	server   *httptest.Server
}

func newBridge(t *testing.T, resolver domain.Resolver) *bridge {
	t.Helper()
	registry := hub.New()
	consumer := &recordingConsumer{}
	queue := batch.New(consumer, batch.WithDelay(50*time.Millisecond))
	handler := protocol.NewHandler(registry, queue, resolver)

	server := httptest.NewServer(Endpoint(registry, handler))
	t.Cleanup(server.Close)
	return &bridge{registry: registry, consumer: consumer, server: server}
}

func (b *bridge) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(b.server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestBridge_ScanScenario(t *testing.T) {
	b := newBridge(t, nil)

	scanner := b.dial(t, "clientId=scanner-1&type=scanner")
	hello := readJSON(t, scanner)
	assert.Equal(t, "connected", hello["type"])
	assert.Equal(t, "scanner-1", hello["clientId"])
	require.Eventually(t, func() bool { return b.registry.CountScanners() == 1 }, time.Second, 5*time.Millisecond)

	web := b.dial(t, "clientId=web-1&type=web")
	hello = readJSON(t, web)
	assert.Equal(t, "connected", hello["type"])
	assert.Equal(t, "web-1", hello["clientId"])
	assert.Equal(t, true, hello["scannerConnected"])

	require.NoError(t, scanner.WriteJSON(map[string]string{"type": "barcode", "code": "ABC123"}))

	event := readJSON(t, web)
	assert.Equal(t, "barcode", event["type"])
	assert.Equal(t, "ABC123", event["code"])
	assert.IsType(t, float64(0), event["timestamp"])

	require.Eventually(t, func() bool { return len(b.consumer.getBatches()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ABC123"}, b.consumer.getBatches()[0])
}

func TestBridge_DuplicateScansShareOneFlush(t *testing.T) {
	b := newBridge(t, nil)

	s1 := b.dial(t, "type=scanner")
	readJSON(t, s1)
	s2 := b.dial(t, "type=scanner")
	readJSON(t, s2)

	require.NoError(t, s1.WriteJSON(map[string]string{"type": "barcode", "code": "X"}))
	require.NoError(t, s2.WriteJSON(map[string]string{"type": "barcode", "code": "X"}))

	require.Eventually(t, func() bool { return len(b.consumer.getBatches()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, [][]string{{"X"}}, b.consumer.getBatches())
}

func TestBridge_ScannerDisconnectNotifiesWeb(t *testing.T) {
	b := newBridge(t, nil)

	scanner := b.dial(t, "type=scanner")
	readJSON(t, scanner)

	web := b.dial(t, "type=web")
	hello := readJSON(t, web)
	require.Equal(t, true, hello["scannerConnected"])

	scanner.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	scanner.Close()

	status := readJSON(t, web)
	assert.Equal(t, "status", status["type"])
	assert.Equal(t, false, status["scannerConnected"])
	assert.Equal(t, 0, b.registry.CountScanners())
}

func TestBridge_MappingRequestRepliesToRequesterOnly(t *testing.T) {
	resolver := domain.ResolverFunc(func(_ context.Context, code string) (domain.Resolution, error) {
		return domain.Resolution{Found: true, SourceType: "item", SourceID: "7"}, nil
	})
	b := newBridge(t, resolver)

	requester := b.dial(t, "type=web")
	readJSON(t, requester)
	bystander := b.dial(t, "type=web")
	readJSON(t, bystander)

	require.NoError(t, requester.WriteJSON(map[string]string{"type": "mapping_request", "barcode": "0123"}))

	reply := readJSON(t, requester)
	assert.Equal(t, "scan_result", reply["type"])
	assert.Equal(t, "0123", reply["barcode"])
	assert.Equal(t, true, reply["found"])
	assert.Equal(t, "item", reply["source_type"])
	assert.Equal(t, "7", reply["source_id"])

	bystander.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := bystander.ReadMessage()
	assert.Error(t, err)
}

func TestBridge_MalformedFrameKeepsConnection(t *testing.T) {
	b := newBridge(t, nil)

	scanner := b.dial(t, "type=scanner")
	readJSON(t, scanner)
	web := b.dial(t, "type=web")
	readJSON(t, web)

	require.NoError(t, scanner.WriteMessage(websocket.TextMessage, []byte("{broken")))
	require.NoError(t, scanner.WriteJSON(map[string]string{"type": "barcode", "code": "AFTER"}))

	event := readJSON(t, web)
	assert.Equal(t, "AFTER", event["code"])
	assert.Equal(t, 1, b.registry.CountScanners())
}

func TestBridge_UnknownRoleIsAcceptedButSilent(t *testing.T) {
	b := newBridge(t, nil)

	other := b.dial(t, "type=kiosk")
	hello := readJSON(t, other)
	assert.Equal(t, "connected", hello["type"])
	assert.NotEmpty(t, hello["clientId"])

	scanner := b.dial(t, "type=scanner")
	readJSON(t, scanner)
	require.NoError(t, scanner.WriteJSON(map[string]string{"type": "barcode", "code": "Z"}))

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err)

	require.Eventually(t, func() bool {
		_, _, n := b.registry.Stats()
		return n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBridge_LivenessEvictsSilentScanner(t *testing.T) {
	b := newBridge(t, nil)

	// the scanner never reads, so it never answers a ping
	b.dial(t, "type=scanner")
	require.Eventually(t, func() bool { return b.registry.CountScanners() == 1 }, time.Second, 5*time.Millisecond)

	web := b.dial(t, "type=web")
	readJSON(t, web)

	// the web client keeps reading in the background, which answers pings
	statuses := make(chan map[string]any, 4)
	go func() {
		for {
			var msg map[string]any
			if err := web.ReadJSON(&msg); err != nil {
				close(statuses)
				return
			}
			statuses <- msg
		}
	}()

	supervisor := liveness.New(b.registry, time.Minute)
	supervisor.Sweep()

	var webConn domain.Connection
	for _, c := range b.registry.Connections() {
		if c.Role() == domain.RoleWeb {
			webConn = c
		}
	}
	require.NotNil(t, webConn)
	require.Eventually(t, webConn.Alive, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, supervisor.Sweep())

	select {
	case msg := <-statuses:
		assert.Equal(t, "status", msg["type"])
		assert.Equal(t, false, msg["scannerConnected"])
	case <-time.After(2 * time.Second):
		t.Fatal("no presence update after eviction")
	}
	require.Eventually(t, func() bool { return b.registry.CountScanners() == 0 }, time.Second, 5*time.Millisecond)
}

func TestConn_SendAfterTerminate(t *testing.T) {
	b := newBridge(t, nil)
	client := b.dial(t, "type=web")
	readJSON(t, client)

	var conn domain.Connection
	require.Eventually(t, func() bool {
		conns := b.registry.Connections()
		if len(conns) == 1 {
			conn = conns[0]
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)

	conn.Terminate()
	conn.Terminate()

	assert.ErrorIs(t, conn.Send([]byte("late")), domain.ErrConnClosed)
	require.Eventually(t, func() bool { return len(b.registry.Connections()) == 0 }, time.Second, 5*time.Millisecond)
}

type busyRegistry struct {
	*hub.Hub
}

// Join surrounds the real registration with broadcasts from another client.
func (r busyRegistry) Join(conn domain.Connection, welcome func()) {
	r.Hub.Join(conn, func() {
		r.Hub.Broadcast(domain.RoleWeb, []byte(`{"type":"barcode","code":"EARLY"}`))
		welcome()
	})
	r.Hub.Broadcast(domain.RoleWeb, []byte(`{"type":"barcode","code":"LATE"}`))
}

func TestBridge_ConnectedIsAlwaysFirst(t *testing.T) {
	registry := busyRegistry{Hub: hub.New()}
	handler := protocol.NewHandler(registry, batch.New(&recordingConsumer{}), nil)
	server := httptest.NewServer(Endpoint(registry, handler))
	t.Cleanup(server.Close)
	b := &bridge{registry: registry.Hub, server: server}

	for i := 0; i < 5; i++ {
		web := b.dial(t, "type=web")

		hello := readJSON(t, web)
		require.Equal(t, "connected", hello["type"])

		event := readJSON(t, web)
		assert.Equal(t, "barcode", event["type"])
		assert.Equal(t, "LATE", event["code"])
	}
}

func TestBridge_ScannerWelcomeCountsItself(t *testing.T) {
	b := newBridge(t, nil)

	scanner := b.dial(t, "type=scanner")
	hello := readJSON(t, scanner)
	assert.Equal(t, "connected", hello["type"])
	assert.Equal(t, true, hello["scannerConnected"])
}

func TestBridge_LargeFrameIsRelayed(t *testing.T) {
	b := newBridge(t, nil)

	scanner := b.dial(t, "type=scanner")
	readJSON(t, scanner)
	web := b.dial(t, "type=web")
	readJSON(t, web)

	code := strings.Repeat("9", 8000)
	require.NoError(t, scanner.WriteJSON(map[string]string{"type": "barcode", "code": code}))

	event := readJSON(t, web)
	assert.Equal(t, code, event["code"])
}

func TestBridge_OversizedFrameClosesConnection(t *testing.T) {
	b := newBridge(t, nil)

	scanner := b.dial(t, "type=scanner")
	readJSON(t, scanner)
	require.Eventually(t, func() bool { return b.registry.CountScanners() == 1 }, time.Second, 5*time.Millisecond)

	code := strings.Repeat("9", maxMessageSize+1)
	scanner.WriteJSON(map[string]string{"type": "barcode", "code": code})

	scanner.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := scanner.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return b.registry.CountScanners() == 0 }, time.Second, 5*time.Millisecond)
}
