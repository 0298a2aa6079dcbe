package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// A pending-count observation older than this is discarded.
const feedFreshness = 30 * time.Second

// Reconnect backoff bounds for the feed's read loop.
const (
	feedReconnectMin = time.Second
	feedReconnectMax = 30 * time.Second
)

// feedMessage is one notification from the mempool-observability endpoint.
type feedMessage struct {
	Type         string `json:"type"`
	PendingCount int    `json:"pendingCount"`
}

// Feed subscribes to a mempool-observability websocket endpoint and
// tracks the most recent pending-transaction count. The feed is
// optional: when it is absent or down, the monitor degrades to
// slot-rate-only sampling.
type Feed struct {
	url    string
	logger *slog.Logger

	mu         sync.Mutex
	pending    int
	observedAt time.Time

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// NewFeed creates a feed for the given websocket URL.
func NewFeed(url string, logger *slog.Logger) *Feed {
	return &Feed{
		url:    url,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the read loop. It returns immediately; connection
// failures are retried in the background with backoff.
func (f *Feed) Start(ctx context.Context) {
	f.started.Store(true)
	go f.run(ctx)
}

// Stop shuts the feed down and waits for the read loop to exit.
// Safe to call on a feed that was never started.
func (f *Feed) Stop() {
	close(f.stop)
	if f.started.Load() {
		<-f.done
	}
}

// PendingCount returns the latest observed pending-transaction count.
// ok is false when no fresh observation is available.
func (f *Feed) PendingCount() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.observedAt.IsZero() || time.Since(f.observedAt) > feedFreshness {
		return 0, false
	}
	return f.pending, true
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)

	backoff := feedReconnectMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			f.logger.Warn("mempool feed dial failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-f.stop:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, feedReconnectMax)
			continue
		}

		f.logger.Info("mempool feed connected", "url", f.url)
		backoff = feedReconnectMin
		f.readLoop(ctx, conn)
		_ = conn.Close()
	}
}

// readLoop consumes notifications until the connection breaks or the
// feed is stopped.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadJSON when the feed is told to stop.
	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.stop:
		case <-readerDone:
			return
		}
		_ = conn.Close()
	}()

	for {
		var msg feedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.logger.Warn("mempool feed read failed", "error", err)
			}
			return
		}
		if msg.Type != "pending" {
			continue
		}

		f.mu.Lock()
		f.pending = msg.PendingCount
		f.observedAt = time.Now()
		f.mu.Unlock()
	}
}
