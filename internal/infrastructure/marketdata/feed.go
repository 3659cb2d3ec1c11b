package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/trade_controller/internal/domain"
	"go.uber.org/zap"
)

// Feed implements domain.MarketDataService over a websocket stream with a
// REST polling fallback. Stream and poller only publish into the snapshot
// cache; the control loop reads it at the start of each iteration.
type Feed struct {
	wsURL   string
	restURL string
	poll    time.Duration
	client  *http.Client
	logger  *zap.Logger

	mu        sync.RWMutex
	snapshots map[string]*domain.MarketSnapshot
	fallback  bool
	validated int
	received  int
}

func NewFeed(wsURL, restURL string, poll time.Duration, logger *zap.Logger) *Feed {
	if poll <= 0 {
		poll = 10 * time.Second
	}
	return &Feed{
		wsURL:     wsURL,
		restURL:   restURL,
		poll:      poll,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		snapshots: make(map[string]*domain.MarketSnapshot),
	}
}

// Start launches the websocket reader and the REST fallback poller.
func (f *Feed) Start(ctx context.Context) {
	if f.wsURL != "" {
		go f.streamLoop(ctx)
	}
	go f.pollLoop(ctx)
}

// GetSnapshots returns the current snapshot set. The map values are never
// mutated after publication, so sharing pointers is safe.
func (f *Feed) GetSnapshots(ctx context.Context) ([]*domain.MarketSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.snapshots) == 0 {
		return nil, fmt.Errorf("no snapshots available yet")
	}
	out := make([]*domain.MarketSnapshot, 0, len(f.snapshots))
	for _, s := range f.snapshots {
		out = append(out, s)
	}
	return out, nil
}

// Health reports whether the stream degraded to REST polling and what
// fraction of recent snapshots passed validation.
func (f *Feed) Health() domain.FeedHealth {
	f.mu.RLock()
	defer f.mu.RUnlock()
	coverage := 100.0
	if f.received > 0 {
		coverage = float64(f.validated) / float64(f.received) * 100
	}
	return domain.FeedHealth{
		FallbackActive:        f.fallback,
		ValidationCoveragePct: coverage,
	}
}

func (f *Feed) streamLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.streamOnce(ctx); err != nil {
			f.logger.Warn("websocket stream failed, falling back to REST", zap.Error(err))
		}
		f.setFallback(true)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (f *Feed) streamOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()
	f.setFallback(false)
	f.logger.Info("websocket stream connected", zap.String("url", f.wsURL))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var snap domain.MarketSnapshot
		if err := json.Unmarshal(message, &snap); err != nil {
			f.logger.Debug("skipping unparseable frame", zap.Error(err))
			continue
		}
		f.publish(&snap)
	}
}

func (f *Feed) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The poller runs continuously; while the stream is healthy it
			// just refreshes markets the stream has not touched recently.
			if err := f.pollOnce(ctx); err != nil {
				f.logger.Warn("REST poll failed", zap.Error(err))
			}
		}
	}
}

func (f *Feed) pollOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.restURL+"/snapshots", nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("snapshots endpoint returned %d", resp.StatusCode)
	}

	var snaps []*domain.MarketSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		return fmt.Errorf("decode snapshots: %w", err)
	}
	for _, s := range snaps {
		f.publish(s)
	}
	return nil
}

// publish validates and stores one snapshot. Invalid snapshots still count
// toward the coverage denominator so degraded sources surface in Health.
func (f *Feed) publish(snap *domain.MarketSnapshot) {
	valid := validate(snap)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received++
	if valid {
		f.validated++
		if snap.FetchedAt.IsZero() {
			snap.FetchedAt = time.Now()
		}
		f.snapshots[snap.MarketID] = snap
	}
	// Keep the coverage window bounded.
	if f.received > 10000 {
		f.received /= 2
		f.validated /= 2
	}
}

func validate(s *domain.MarketSnapshot) bool {
	if s.MarketID == "" {
		return false
	}
	if s.Bid < 0 || s.Ask < 0 || s.Bid > 1 || s.Ask > 1 || s.Ask < s.Bid {
		return false
	}
	if s.Mid <= 0 || s.Mid >= 1 {
		return false
	}
	return true
}

func (f *Feed) setFallback(v bool) {
	f.mu.Lock()
	f.fallback = v
	f.mu.Unlock()
}
