package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
)

// globalStream holds events that belong to no run, such as heartbeats.
const globalStream = "global"

// Event is one server-sent event. Run partitions the event IDs and the
// replay buffers.
type Event struct {
	ID   int64          `json:"id,omitempty"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
	Run  string         `json:"run,omitempty"`
	Time time.Time      `json:"-"`
}

// Client is a connected SSE subscriber.
type Client struct {
	ID     string
	Run    string
	LastID int64

	writer http.ResponseWriter
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	once   sync.Once
	mu     sync.Mutex
}

func (c *Client) wants(e Event) bool {
	return c.Run == "" || e.Run == "" || e.Run == c.Run
}

// Hub fans events out to SSE clients and keeps a replay buffer per run.
//
// Lock order: h.mu, then EventBuffer.mu, then Client.mu.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	nextIDs map[string]int64
	buffers map[string]*EventBuffer
	cfg     config.TelemetryConfig

	heartbeat     *time.Ticker
	stopHeartbeat chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub returns a Hub using cfg for heartbeats and buffering.
func NewHub(cfg config.TelemetryConfig) *Hub {
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 50
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	return &Hub{
		clients: make(map[string]*Client),
		nextIDs: make(map[string]int64),
		buffers: make(map[string]*EventBuffer),
		cfg:     cfg,
		done:    make(chan struct{}),
	}
}

// Subscribe streams events to w until the request or ctx ends. The run
// query parameter restricts the stream to one run; Last-Event-ID replays
// the buffered events of that run.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCtx, cancel := context.WithCancel(ctx)
	client := &Client{
		ID:     uuid.NewString(),
		Run:    r.URL.Query().Get("run"),
		writer: w,
		ctx:    clientCtx,
		cancel: cancel,
		events: make(chan Event, 100),
	}
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			client.LastID = id
		}
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	if h.heartbeat == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	ready := Event{
		ID:   h.nextID(client.Run),
		Type: "ready",
		Data: map[string]any{"run": client.Run, "client": client.ID},
	}
	if err := client.send(ready); err != nil {
		h.unregister(client.ID)
		return fmt.Errorf("send ready event: %w", err)
	}
	if client.LastID > 0 {
		if err := h.replay(client); err != nil {
			h.unregister(client.ID)
			return fmt.Errorf("replay events: %w", err)
		}
	}

	h.serve(client)
	return nil
}

// Publish assigns the event an ID, buffers it under its run and hands it
// to every interested client. Slow clients miss events rather than block
// the publisher.
func (h *Hub) Publish(e Event) {
	select {
	case <-h.done:
		return
	default:
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.ID == 0 {
		e.ID = h.nextID(e.Run)
	}
	if e.Run != "" {
		h.buffer(e)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.wants(e) {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case <-c.ctx.Done():
		case <-h.done:
			return
		case c.events <- e:
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Buffer returns the replay buffer of run, or nil.
func (h *Hub) Buffer(run string) *EventBuffer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.buffers[run]
}

func (h *Hub) replay(c *Client) error {
	buf := h.Buffer(c.Run)
	if buf == nil {
		return nil
	}
	for _, e := range buf.After(c.LastID, h.cfg.EventBufferRetention) {
		if err := c.send(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) send(e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if e.ID > 0 {
		if _, err := fmt.Fprintf(c.writer, "id: %d\n", e.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(c.writer, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return err
	}
	if f, ok := c.writer.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (h *Hub) serve(c *Client) {
	defer func() {
		c.once.Do(func() { close(c.events) })
		h.unregister(c.ID)
	}()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-h.done:
			return
		case e, ok := <-c.events:
			if !ok {
				return
			}
			if err := c.send(e); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.cancel()
	delete(h.clients, id)
	if len(h.clients) == 0 {
		h.stopHeartbeatLocked()
	}
}

func (h *Hub) nextID(run string) int64 {
	if run == "" {
		run = globalStream
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextIDs[run]++
	return h.nextIDs[run]
}

func (h *Hub) buffer(e Event) {
	h.mu.Lock()
	buf, ok := h.buffers[e.Run]
	if !ok {
		buf = NewEventBuffer(h.cfg.EventBufferSize)
		h.buffers[e.Run] = buf
	}
	h.mu.Unlock()
	buf.Add(e)
}

// startHeartbeat must be called with h.mu held.
func (h *Hub) startHeartbeat() {
	interval := h.cfg.HeartbeatInterval
	if j := h.cfg.HeartbeatJitter; j > 0 {
		interval += time.Duration(rand.Int64N(int64(j)))
	}
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	h.heartbeat = ticker
	h.stopHeartbeat = stop

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.Publish(Event{Type: "heartbeat", Data: map[string]any{
					"ts": time.Now().UTC().Format(time.RFC3339),
				}})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

func (h *Hub) stopHeartbeatLocked() {
	if h.heartbeat == nil {
		return
	}
	h.heartbeat.Stop()
	h.heartbeat = nil
	close(h.stopHeartbeat)
	h.stopHeartbeat = nil
}

// Stop disconnects every client and ends the heartbeat. Stop is
// idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, c := range h.clients {
			c.cancel()
		}
		h.stopHeartbeatLocked()
		h.mu.Unlock()

		finished := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
		}
	})
}

// EventBuffer is a bounded, ordered replay buffer.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewEventBuffer returns a buffer keeping the last capacity events.
func NewEventBuffer(capacity int) *EventBuffer {
	return &EventBuffer{events: make([]Event, 0, capacity), capacity: capacity}
}

// Add appends e, dropping the oldest event when full.
func (b *EventBuffer) Add(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
}

// After returns the events with an ID above lastID. A positive retention
// excludes events older than that.
func (b *EventBuffer) After(lastID int64, retention time.Duration) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var cutoff time.Time
	if retention > 0 {
		cutoff = time.Now().Add(-retention)
	}
	var out []Event
	for _, e := range b.events {
		if e.ID <= lastID {
			continue
		}
		if !cutoff.IsZero() && e.Time.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of buffered events.
func (b *EventBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// Cap returns the buffer capacity.
func (b *EventBuffer) Cap() int { return b.capacity }
