package signaling

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/streamcore/internal/logging"
)

var log = logging.L("signaling")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
	sendQueueSize  = 256
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("signaling channel closed")

// Channel is a bidirectional text message transport.
type Channel interface {
	// Connect dials url. Inbound messages are delivered to the OnMessage
	// callback on a channel-owned goroutine any time after it returns.
	Connect(ctx context.Context, url string) error
	// Send queues msg. It is a no-op before a successful Connect.
	Send(msg string)
	// OnMessage replaces the inbound message callback.
	OnMessage(fn func(msg string))
	// Close stops delivery and waits for the channel goroutines.
	Close() error
}

// StreamURL builds the signaling endpoint for a stream. http(s) schemes
// are mapped to ws(s) and the stream id is added as a query parameter.
func StreamURL(base, streamID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse signaling url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported signaling url scheme %q", u.Scheme)
	}
	if streamID != "" {
		q := u.Query()
		q.Set("stream", streamID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// WebSocket is a Channel over a gorilla/websocket connection. After the
// first successful dial it reconnects with jittered exponential backoff
// until Close.
type WebSocket struct {
	dialer *websocket.Dialer
	header http.Header

	connMu sync.RWMutex
	conn   *websocket.Conn
	url    string

	cbMu      sync.RWMutex
	onMessage func(string)

	sendChan  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	stateMu   sync.Mutex
	connected bool
	closed    bool
}

// Option configures a WebSocket channel.
type Option func(*WebSocket)

// WithHeader adds HTTP headers to the handshake.
func WithHeader(h http.Header) Option {
	return func(w *WebSocket) { w.header = h }
}

// WithDialer overrides the handshake dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(w *WebSocket) { w.dialer = d }
}

// NewWebSocket creates an unconnected channel.
func NewWebSocket(opts ...Option) *WebSocket {
	w := &WebSocket{
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		sendChan: make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Connect performs the first dial synchronously and starts the pumps.
func (w *WebSocket) Connect(ctx context.Context, rawURL string) error {
	w.stateMu.Lock()
	if w.closed {
		w.stateMu.Unlock()
		return ErrClosed
	}
	if w.connected {
		w.stateMu.Unlock()
		return errors.New("signaling channel already connected")
	}
	w.stateMu.Unlock()

	conn, err := w.dial(ctx, rawURL)
	if err != nil {
		return err
	}

	w.stateMu.Lock()
	if w.closed {
		w.stateMu.Unlock()
		conn.Close()
		return ErrClosed
	}
	w.connected = true
	w.url = rawURL
	w.stateMu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
	return nil
}

// Send queues a text frame. Messages are dropped when the queue is full.
func (w *WebSocket) Send(msg string) {
	w.stateMu.Lock()
	connected, closed := w.connected, w.closed
	w.stateMu.Unlock()
	if !connected || closed {
		log.Debug("send before connect ignored", "bytes", len(msg))
		return
	}

	select {
	case w.sendChan <- []byte(msg):
	case <-w.done:
	default:
		log.Warn("send queue full, dropping message", "bytes", len(msg))
	}
}

// OnMessage replaces the inbound callback.
func (w *WebSocket) OnMessage(fn func(string)) {
	w.cbMu.Lock()
	w.onMessage = fn
	w.cbMu.Unlock()
}

// Close sends a close frame, stops reconnecting and waits for the pumps.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.stateMu.Lock()
		w.closed = true
		w.stateMu.Unlock()

		close(w.done)

		w.connMu.Lock()
		if w.conn != nil {
			w.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			w.conn.Close()
			w.conn = nil
		}
		w.connMu.Unlock()
	})
	w.wg.Wait()
	return nil
}

func (w *WebSocket) dial(ctx context.Context, rawURL string) (*websocket.Conn, error) {
	conn, resp, err := w.dialer.DialContext(ctx, rawURL, w.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signaling dial %s: %w (status %d)", redact(rawURL), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("signaling dial %s: %w", redact(rawURL), err)
	}
	conn.SetReadLimit(maxMessageSize)

	w.connMu.Lock()
	w.stateMu.Lock()
	closed := w.closed
	w.stateMu.Unlock()
	if closed {
		w.connMu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}
	w.conn = conn
	w.connMu.Unlock()

	log.Info("signaling connected", "url", redact(rawURL))
	return conn, nil
}

func (w *WebSocket) run() {
	backoff := initialBackoff
	for {
		w.connMu.RLock()
		conn := w.conn
		w.connMu.RUnlock()

		if conn != nil {
			pumpDone := make(chan struct{})
			writerExited := make(chan struct{})
			go func() {
				defer close(writerExited)
				w.writePump(conn, pumpDone)
			}()
			w.readPump(conn)
			close(pumpDone)
			<-writerExited

			w.connMu.Lock()
			if w.conn == conn {
				w.conn = nil
			}
			w.connMu.Unlock()
			conn.Close()
			backoff = initialBackoff
		}

		select {
		case <-w.done:
			return
		default:
		}

		jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}
		log.Info("signaling reconnecting", "delay", sleep)
		select {
		case <-w.done:
			return
		case <-time.After(sleep):
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.dialer.HandshakeTimeout+time.Second)
		_, err := w.dial(ctx, w.url)
		cancel()
		if err != nil {
			log.Warn("signaling reconnect failed", "error", err)
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func (w *WebSocket) readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("signaling read error", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		w.cbMu.RLock()
		fn := w.onMessage
		w.cbMu.RUnlock()
		if fn == nil {
			log.Debug("no message handler, dropping", "bytes", len(data))
			continue
		}
		fn(string(data))
	}
}

func (w *WebSocket) writePump(conn *websocket.Conn, pumpDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-pumpDone:
			return
		case <-w.done:
			return

		case msg := <-w.sendChan:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Warn("signaling write error", "error", err)
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// redact strips credentials and query parameters from a URL for logging.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
