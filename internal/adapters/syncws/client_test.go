package syncws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/resona-audio/resona/internal/protocol"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// collectServer records every inbound envelope in receive order.
func collectServer(t *testing.T, received chan<- protocol.InboundEnvelope) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg protocol.InboundEnvelope
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			received <- msg
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recvOne(t *testing.T, ch <-chan protocol.InboundEnvelope) protocol.InboundEnvelope {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return protocol.InboundEnvelope{}
	}
}

func TestBufferDrainsInOrderAfterOpen(t *testing.T) {
	received := make(chan protocol.InboundEnvelope, 8)
	srv := collectServer(t, received)

	client := NewClient(wsURL(srv), nil, Options{ReconnectDelay: 50 * time.Millisecond})
	defer client.Shutdown()

	// Enqueue while disconnected: everything buffers, nothing is lost.
	for _, id := range []string{"one", "two", "three"} {
		if err := client.Send(protocol.TypeUpdateSession, map[string]string{"sessionId": id}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if client.Buffered() != 3 {
		t.Fatalf("buffered = %d, want 3", client.Buffered())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	// All three arrive exactly once, oldest first.
	for _, want := range []string{"one", "two", "three"} {
		msg := recvOne(t, received)
		var payload struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if payload.SessionID != want {
			t.Fatalf("got %q, want %q", payload.SessionID, want)
		}
	}
	select {
	case extra := <-received:
		t.Fatalf("unexpected duplicate delivery: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendWhileOpenDelivers(t *testing.T) {
	received := make(chan protocol.InboundEnvelope, 8)
	srv := collectServer(t, received)

	client := NewClient(wsURL(srv), nil, Options{ReconnectDelay: 50 * time.Millisecond})
	defer client.Shutdown()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	waitForState(t, client, StateOpen)
	if err := client.Send(protocol.TypeGetSessions, protocol.GetSessionsPayload{Profile: "default"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg := recvOne(t, received); msg.Type != protocol.TypeGetSessions {
		t.Fatalf("type = %q", msg.Type)
	}
}

func TestInboundDispatchInReceiveOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 3; i++ {
			payload, _ := json.Marshal(protocol.Envelope{
				Type:    protocol.TypeSessionUpdated,
				Payload: map[string]int{"n": i},
			})
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	handler := func(_ context.Context, msg protocol.InboundEnvelope) {
		var payload struct {
			N int `json:"n"`
		}
		_ = json.Unmarshal(msg.Payload, &payload)
		mu.Lock()
		got = append(got, payload.N)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	}

	client := NewClient(wsURL(srv), handler, Options{ReconnectDelay: 50 * time.Millisecond})
	defer client.Shutdown()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, n := range got {
		if n != i {
			t.Fatalf("dispatch order broken: %v", got)
		}
	}
}

func TestOnOpenFiresOnEachReconnect(t *testing.T) {
	var upgrades atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if upgrades.Add(1) == 1 {
			// Drop the first connection to force a reconnect.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	var opens atomic.Int32
	client := NewClient(wsURL(srv), nil, Options{
		ReconnectDelay: 20 * time.Millisecond,
		OnOpen:         func() { opens.Add(1) },
	})
	defer client.Shutdown()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if opens.Load() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("opens = %d, want at least 2", opens.Load())
}

func TestCookieReplayedAcrossReconnects(t *testing.T) {
	tokens := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := http.Header{}
		if ck, err := r.Cookie("ct"); err == nil {
			tokens <- "replayed:" + ck.Value
		} else {
			header.Set("Set-Cookie", (&http.Cookie{Name: "ct", Value: "tok-1", Path: "/"}).String())
			tokens <- "minted"
		}
		conn, err := testUpgrader.Upgrade(w, r, header)
		if err != nil {
			return
		}
		// Drop every connection so the client keeps redialing.
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	client := NewClient(wsURL(srv), nil, Options{ReconnectDelay: 20 * time.Millisecond})
	defer client.Shutdown()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	recvToken := func() string {
		select {
		case tok := <-tokens:
			return tok
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for dial")
			return ""
		}
	}
	if got := recvToken(); got != "minted" {
		t.Fatalf("first dial = %q, want minted", got)
	}
	if got := recvToken(); got != "replayed:tok-1" {
		t.Fatalf("second dial = %q, want the minted token replayed", got)
	}
}

func TestSendAfterShutdownFails(t *testing.T) {
	client := NewClient("ws://127.0.0.1:0", nil, Options{})
	client.Shutdown()
	if err := client.Send(protocol.TypePing, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestRetriesExhausted(t *testing.T) {
	// Nothing listens here; every dial fails fast.
	client := NewClient("ws://127.0.0.1:1", nil, Options{
		ReconnectDelay: 10 * time.Millisecond,
		MaxRetries:     2,
	})
	err := client.Run(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if client.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", client.State())
	}
}

func TestBackoffAfterServerClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the connection immediately; the client must back off and
		// keep its buffer rather than fail.
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	client := NewClient(wsURL(srv), nil, Options{ReconnectDelay: time.Hour})
	defer client.Shutdown()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	waitForState(t, client, StateBackoff)
}

func waitForState(t *testing.T, client *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if client.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", client.State(), want)
}
