package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/trace"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

const (
	traceWriteTimeout = 5 * time.Second
	tracePingInterval = 30 * time.Second
	tracePongTimeout  = 2 * tracePingInterval
	traceBacklog      = 8
)

// TraceFeed broadcasts every acquired aggregate, in trace text form, to
// the connected WebSocket clients. It is a sink.Sink; clients that fall
// behind miss traces rather than slow the acquisition.
type TraceFeed struct {
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu      sync.Mutex
	clients map[string]*traceClient
	closed  bool
	sent    int64
	dropped int64
}

type traceClient struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *traceClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// NewTraceFeed returns an empty feed.
func NewTraceFeed(log logrus.FieldLogger) *TraceFeed {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TraceFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		log:     log.WithField("component", "traces"),
		clients: make(map[string]*traceClient),
	}
}

// Write encodes agg once and queues it for every client.
func (f *TraceFeed) Write(agg waveform.Aggregate) error {
	f.mu.Lock()
	n := len(f.clients)
	f.mu.Unlock()
	if n == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := trace.NewEncoder(&buf).Encode(agg); err != nil {
		return err
	}
	msg := buf.Bytes()

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		select {
		case c.out <- msg:
			f.sent++
		default:
			f.dropped++
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (f *TraceFeed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Stats returns the number of queued and dropped messages.
func (f *TraceFeed) Stats() (sent, dropped int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent, f.dropped
}

// ServeHTTP upgrades the request and streams traces until the client goes
// away or the feed is closed.
func (f *TraceFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	id := uuid.NewString()
	c := &traceClient{
		conn: conn,
		out:  make(chan []byte, traceBacklog),
		done: make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return
	}
	f.clients[id] = c
	f.mu.Unlock()

	log := f.log.WithField("client", id)
	log.Info("trace client connected")
	defer func() {
		f.mu.Lock()
		delete(f.clients, id)
		f.mu.Unlock()
		_ = conn.Close()
		log.Info("trace client disconnected")
	}()

	go f.readLoop(c)
	f.writeLoop(c, log)
}

// readLoop discards client messages and notices the close.
func (f *TraceFeed) readLoop(c *traceClient) {
	defer c.stop()
	_ = c.conn.SetReadDeadline(time.Now().Add(tracePongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(tracePongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *TraceFeed) writeLoop(c *traceClient, log logrus.FieldLogger) {
	ping := time.NewTicker(tracePingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(traceWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.WithError(err).Debug("trace write failed")
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(traceWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and refuses new ones.
func (f *TraceFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for _, c := range f.clients {
		c.stop()
	}
}
