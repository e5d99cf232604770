package stream

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"
)

// Frame is one inbound JSON message with its local receive time.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// Transport carries frames for a single connection. Frames are delivered
// in arrival order and never dropped; a read failure is reported once on
// Errors.
type Transport interface {
	Send(data []byte) error
	Frames() <-chan Frame
	Errors() <-chan error
	Close() error
}

// Dialer opens a Transport to cfg.Endpoint.
type Dialer func(ctx context.Context, cfg Config, logger *slog.Logger) (Transport, error)

// Dial picks a transport by endpoint scheme.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (Transport, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	switch u.Scheme {
	case "tls":
		d := tls.Dialer{
			NetDialer: &net.Dialer{Timeout: cfg.ConnectTimeout},
			Config:    &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12},
		}
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		return newLineTransport(conn, cfg, logger), nil
	case "tcp":
		d := net.Dialer{Timeout: cfg.ConnectTimeout}
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		return newLineTransport(conn, cfg, logger), nil
	case "ws", "wss":
		return dialWebsocket(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

var crlf = []byte("\r\n")

// lineTransport speaks CRLF-delimited JSON over a byte stream.
type lineTransport struct {
	conn         net.Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	frames chan Frame
	errors chan error
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newLineTransport(conn net.Conn, cfg Config, logger *slog.Logger) *lineTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &lineTransport{
		conn:         conn,
		logger:       logger,
		writeTimeout: cfg.WriteTimeout,
		frames:       make(chan Frame, 256),
		errors:       make(chan error, 1),
		done:         make(chan struct{}),
	}
	go t.readLoop(cfg.ReadBufferSize)

	logger.Debug("stream connected", "remote", conn.RemoteAddr().String())
	return t
}

func (t *lineTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	buf := make([]byte, 0, len(data)+len(crlf))
	buf = append(buf, data...)
	buf = append(buf, crlf...)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	_, err := t.conn.Write(buf)
	return err
}

func (t *lineTransport) Frames() <-chan Frame { return t.frames }

func (t *lineTransport) Errors() <-chan error { return t.errors }

func (t *lineTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

func (t *lineTransport) readLoop(bufSize int) {
	if bufSize <= 0 {
		bufSize = DefaultReadBufferSize
	}
	reader := bufio.NewReaderSize(t.conn, bufSize)

	for {
		line, err := reader.ReadBytes('\n')
		receivedAt := time.Now()

		// A trailing fragment without a newline is a truncated frame.
		if err == nil {
			line = bytes.TrimRight(line, "\r\n")
			if len(line) > 0 {
				select {
				case t.frames <- Frame{Data: line, ReceivedAt: receivedAt}:
				case <-t.done:
					return
				}
			}
			continue
		}

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
}
