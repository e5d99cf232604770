package stream

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(endpoint string) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.ConnectTimeout = time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}

func receiveFrame(t *testing.T, tr Transport) Frame {
	t.Helper()
	select {
	case f := <-tr.Frames():
		return f
	case err := <-tr.Errors():
		t.Fatalf("transport error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Frame{}
}

func TestDial_UnsupportedScheme(t *testing.T) {
	_, err := Dial(context.Background(), testConfig("http://example.com"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestLineTransport_FramesAndSend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("{\"op\":\"connection\"}\r\n\r\n{\"op\":\"status\"}\r\n{\"op\":\"trunc"))
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
		time.Sleep(50 * time.Millisecond)
	}()

	tr, err := Dial(context.Background(), testConfig("tcp://"+ln.Addr().String()), nil)
	require.NoError(t, err)
	defer tr.Close()

	assert.Equal(t, `{"op":"connection"}`, string(receiveFrame(t, tr).Data))
	assert.Equal(t, `{"op":"status"}`, string(receiveFrame(t, tr).Data))

	require.NoError(t, tr.Send([]byte(`{"op":"heartbeat","id":1}`)))
	select {
	case line := <-received:
		assert.Equal(t, "{\"op\":\"heartbeat\",\"id\":1}\r\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame")
	}

	// The server closes after its sleep; the truncated tail is not a frame.
	select {
	case f := <-tr.Frames():
		t.Fatalf("unexpected frame %q", f.Data)
	case err := <-tr.Errors():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected read error after server close")
	}
}

func TestLineTransport_CloseSuppressesError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(time.Second)
	}()

	tr, err := Dial(context.Background(), testConfig("tcp://"+ln.Addr().String()), nil)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send([]byte("x")), ErrTransportClosed)

	select {
	case err := <-tr.Errors():
		t.Fatalf("unexpected error after close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func TestWebsocketTransport(t *testing.T) {
	got := make(chan string, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("{\"op\":\"connection\"}\r\n{\"op\":\"status\"}"))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		got <- string(data)
		conn.ReadMessage()
	})
	defer server.Close()

	endpoint := "ws" + strings.TrimPrefix(server.URL, "http")
	tr, err := Dial(context.Background(), testConfig(endpoint), nil)
	require.NoError(t, err)

	assert.Equal(t, `{"op":"connection"}`, string(receiveFrame(t, tr).Data))
	assert.Equal(t, `{"op":"status"}`, string(receiveFrame(t, tr).Data))

	require.NoError(t, tr.Send([]byte(`{"op":"heartbeat","id":9}`)))
	select {
	case msg := <-got:
		assert.Equal(t, `{"op":"heartbeat","id":9}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send([]byte("x")), ErrTransportClosed)
}

type recordingTransport struct {
	sent   chan []byte
	failOn int
	count  int
}

func (r *recordingTransport) Send(data []byte) error {
	r.count++
	if r.failOn > 0 && r.count >= r.failOn {
		return errors.New("broken pipe")
	}
	r.sent <- data
	return nil
}
func (r *recordingTransport) Frames() <-chan Frame { return nil }
func (r *recordingTransport) Errors() <-chan error { return nil }
func (r *recordingTransport) Close() error         { return nil }

func TestOutbox_PreservesOrder(t *testing.T) {
	tr := &recordingTransport{sent: make(chan []byte, 10)}
	out := newOutbox(tr, discardLogger())
	defer out.close()

	for _, msg := range []string{"a", "b", "c"} {
		require.True(t, out.push([]byte(msg)))
	}
	for _, want := range []string{"a", "b", "c"} {
		select {
		case got := <-tr.sent:
			assert.Equal(t, want, string(got))
		case <-time.After(time.Second):
			t.Fatal("outbox did not flush")
		}
	}
}

func TestOutbox_ReportsWriteError(t *testing.T) {
	tr := &recordingTransport{sent: make(chan []byte, 10), failOn: 2}
	out := newOutbox(tr, discardLogger())
	defer out.close()

	out.push([]byte("a"))
	out.push([]byte("b"))

	select {
	case err := <-out.errors:
		assert.EqualError(t, err, "broken pipe")
	case <-time.After(time.Second):
		t.Fatal("expected write error")
	}
}

func TestOutbox_PushAfterClose(t *testing.T) {
	out := newOutbox(&recordingTransport{sent: make(chan []byte, 1)}, discardLogger())
	out.close()
	out.close()
	assert.False(t, out.push([]byte("a")))
	assert.Equal(t, 0, out.len())
}
