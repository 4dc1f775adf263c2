package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/service"
)

// Maturity alert types pushed to account streams
const (
	EventMaturityUpcoming = "position.maturity_upcoming"
	EventMaturityReached  = "position.matured"
)

// Maturity monitor defaults
const (
	DefaultMaturityInterval = time.Minute
	DefaultMaturityWindow   = 24 * time.Hour
	DefaultMaturityCooldown = 6 * time.Hour
	DefaultMaturityScan     = 1000
)

// MaturingPositions lists fixed-term positions that are still open
type MaturingPositions interface {
	ListOpenTermPositions(ctx context.Context, limit int) ([]*model.Position, error)
}

// Notifier delivers an alert to one account's live streams
type Notifier interface {
	Notify(account string, event *service.FeedEvent)
}

// MaturityMonitor alerts owners when fixed-term positions near or reach
// maturity. Each alert kind repeats at most once per cooldown.
type MaturityMonitor struct {
	source       MaturingPositions
	notifier     Notifier
	clock        service.Clock
	interval     time.Duration
	window       time.Duration
	cooldown     time.Duration
	scanLimit    int
	logger       *slog.Logger
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
	upcomingSent map[string]time.Time // positionID -> last upcoming alert
	reachedSent  map[string]time.Time // positionID -> last matured alert
}

// MaturityMonitorConfig holds configuration for the maturity monitor
type MaturityMonitorConfig struct {
	Source    MaturingPositions
	Notifier  Notifier
	Clock     service.Clock // Optional, defaults to the wall clock
	Interval  time.Duration // How often to scan (default 1m)
	Window    time.Duration // How far ahead to warn (default 24h)
	Cooldown  time.Duration // Between repeated alerts (default 6h)
	ScanLimit int           // Positions per scan (default 1000)
	Logger    *slog.Logger  // Optional
}

// NewMaturityMonitor creates a new maturity monitor job
func NewMaturityMonitor(cfg MaturityMonitorConfig) *MaturityMonitor {
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultMaturityInterval
	}
	window := cfg.Window
	if window == 0 {
		window = DefaultMaturityWindow
	}
	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = DefaultMaturityCooldown
	}
	scanLimit := cfg.ScanLimit
	if scanLimit <= 0 {
		scanLimit = DefaultMaturityScan
	}
	clock := cfg.Clock
	if clock == nil {
		clock = service.SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MaturityMonitor{
		source:       cfg.Source,
		notifier:     cfg.Notifier,
		clock:        clock,
		interval:     interval,
		window:       window,
		cooldown:     cooldown,
		scanLimit:    scanLimit,
		logger:       logger,
		stopCh:       make(chan struct{}),
		upcomingSent: make(map[string]time.Time),
		reachedSent:  make(map[string]time.Time),
	}
}

// Start begins maturity monitoring
func (m *MaturityMonitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()
	m.logger.Info("maturity monitor started", slog.Duration("interval", m.interval))
}

// Stop gracefully stops maturity monitoring
func (m *MaturityMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("maturity monitor stopped")
}

func (m *MaturityMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, _ = m.Check(ctx)
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// Check scans open fixed-term positions once and returns the number of
// alerts sent
func (m *MaturityMonitor) Check(ctx context.Context) (int, error) {
	positions, err := m.source.ListOpenTermPositions(ctx, m.scanLimit)
	if err != nil {
		m.logger.Error("failed to list positions for maturity check", slog.String("error", err.Error()))
		return 0, err
	}

	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	sent := 0
	for _, p := range positions {
		maturity := p.MaturityTime()
		if p.Closed || maturity == nil {
			continue
		}

		switch {
		case !now.Before(*maturity):
			if m.canSendAlert(m.reachedSent, p.ID, now) {
				m.notifier.Notify(p.Owner, maturityAlert(EventMaturityReached, p, *maturity))
				m.reachedSent[p.ID] = now
				sent++
			}
		case maturity.Sub(now) <= m.window:
			if m.canSendAlert(m.upcomingSent, p.ID, now) {
				m.notifier.Notify(p.Owner, maturityAlert(EventMaturityUpcoming, p, *maturity))
				m.upcomingSent[p.ID] = now
				sent++
			}
		}
	}

	m.cleanup(now)
	return sent, nil
}

func maturityAlert(eventType string, p *model.Position, maturity time.Time) *service.FeedEvent {
	return &service.FeedEvent{
		Type: eventType,
		Data: map[string]interface{}{
			"position_id":   p.ID,
			"plan":          p.PlanKind,
			"principal":     p.Principal.String(),
			"maturity_time": maturity.UTC().Format(time.RFC3339),
		},
	}
}

func (m *MaturityMonitor) canSendAlert(sent map[string]time.Time, positionID string, now time.Time) bool {
	lastSent, ok := sent[positionID]
	if !ok {
		return true
	}
	return now.Sub(lastSent) >= m.cooldown
}

func (m *MaturityMonitor) cleanup(now time.Time) {
	// Forget alerts older than the cooldown window
	cutoff := now.Add(-2 * m.cooldown)

	for id, t := range m.upcomingSent {
		if t.Before(cutoff) {
			delete(m.upcomingSent, id)
		}
	}
	for id, t := range m.reachedSent {
		if t.Before(cutoff) {
			delete(m.reachedSent, id)
		}
	}
}

// Forget removes tracking for a position, e.g. once it is claimed
func (m *MaturityMonitor) Forget(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.upcomingSent, positionID)
	delete(m.reachedSent, positionID)
}
