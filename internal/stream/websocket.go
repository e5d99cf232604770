package stream

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsPingInterval paces websocket-level pings; exchange heartbeats are
// handled by the Machine.
const wsPingInterval = 30 * time.Second

// wsTransport carries frames as websocket text messages. A message may
// hold several CRLF-delimited frames.
type wsTransport struct {
	conn         *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	frames chan Frame
	errors chan error
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func dialWebsocket(ctx context.Context, cfg Config, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
		ReadBufferSize:   cfg.ReadBufferSize,
	}
	conn, _, err := dialer.DialContext(ctx, cfg.Endpoint, nil)
	if err != nil {
		return nil, err
	}

	t := &wsTransport{
		conn:         conn,
		logger:       logger,
		writeTimeout: cfg.WriteTimeout,
		frames:       make(chan Frame, 256),
		errors:       make(chan error, 1),
		done:         make(chan struct{}),
	}

	conn.SetPingHandler(func(data string) error {
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	go t.readLoop()
	go t.pingLoop()

	logger.Debug("websocket connected", "url", cfg.Endpoint)
	return t, nil
}

func (t *wsTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Frames() <-chan Frame { return t.frames }

func (t *wsTransport) Errors() <-chan error { return t.errors }

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-t.done:
			default:
				select {
				case t.errors <- err:
				default:
				}
			}
			return
		}

		for _, line := range bytes.Split(data, crlf) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			select {
			case t.frames <- Frame{Data: line, ReceivedAt: receivedAt}:
			case <-t.done:
				return
			}
		}
	}
}

func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(t.writeTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}
