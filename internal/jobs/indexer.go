package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/service"
)

// DefaultIndexerInterval is how often the journal is polled for new events
const DefaultIndexerInterval = 5 * time.Second

// Replayer folds journaled events after its checkpoint
type Replayer interface {
	Replay(ctx context.Context, src service.EventSource, pageSize int) (int, error)
	Checkpoint() uint64
}

// OutboxRelay hands out events staged with entity writes and forgets
// them once journaled
type OutboxRelay interface {
	ListPending(ctx context.Context, limit int) ([]model.Event, error)
	Remove(ctx context.Context, keys []string) error
}

// Indexer moves staged outbox events into the journal and tails the
// journal into the aggregator
type Indexer struct {
	replayer Replayer
	source   service.EventSource
	outbox   OutboxRelay
	journal  service.EventSink
	interval time.Duration
	pageSize int
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
	runMu    sync.Mutex
}

// IndexerConfig holds configuration for the indexer job
type IndexerConfig struct {
	Replayer Replayer
	Source   service.EventSource
	Outbox   OutboxRelay       // Optional, relayed into Journal before each replay
	Journal  service.EventSink // Required with Outbox
	Interval time.Duration     // Optional, defaults to DefaultIndexerInterval
	PageSize int           // Optional, defaults to service.DefaultReplayPageSize
	Logger   *slog.Logger  // Optional
}

// NewIndexer creates a new indexer job
func NewIndexer(cfg IndexerConfig) *Indexer {
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultIndexerInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		replayer: cfg.Replayer,
		source:   cfg.Source,
		outbox:   cfg.Outbox,
		journal:  cfg.Journal,
		interval: interval,
		pageSize: cfg.PageSize,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the indexer job
func (i *Indexer) Start() {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return
	}
	i.running = true
	i.mu.Unlock()

	i.wg.Add(1)
	go i.run()
	i.logger.Info("indexer started", slog.Duration("interval", i.interval))
}

// Stop gracefully stops the indexer job
func (i *Indexer) Stop() {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	i.running = false
	i.mu.Unlock()

	close(i.stopCh)
	i.wg.Wait()
	i.logger.Info("indexer stopped")
}

// RunOnce relays the outbox, then folds every event journaled after the
// checkpoint. A relay failure is reported but does not hold back the
// replay of what is already journaled.
func (i *Indexer) RunOnce(ctx context.Context) (int, error) {
	i.runMu.Lock()
	defer i.runMu.Unlock()

	relayed, relayErr := i.relay(ctx)
	if relayErr != nil {
		i.logger.Error("indexer outbox relay failed",
			slog.Int("relayed", relayed),
			slog.String("error", relayErr.Error()),
		)
	} else if relayed > 0 {
		i.logger.Info("indexer relayed outbox events", slog.Int("relayed", relayed))
	}

	applied, err := i.replayer.Replay(ctx, i.source, i.pageSize)
	if err != nil {
		i.logger.Error("indexer replay failed",
			slog.Int("applied", applied),
			slog.Uint64("checkpoint", i.replayer.Checkpoint()),
			slog.String("error", err.Error()),
		)
		return applied, errors.Join(relayErr, err)
	}
	if applied > 0 {
		i.logger.Info("indexer applied events",
			slog.Int("applied", applied),
			slog.Uint64("checkpoint", i.replayer.Checkpoint()),
		)
	}
	return applied, relayErr
}

// relay appends staged events to the journal page by page and removes each
// page once appended. Events the services already published are duplicates
// the journal accepts without change.
func (i *Indexer) relay(ctx context.Context) (int, error) {
	if i.outbox == nil || i.journal == nil {
		return 0, nil
	}
	page := i.pageSize
	if page <= 0 {
		page = service.DefaultReplayPageSize
	}
	relayed := 0
	for {
		pending, err := i.outbox.ListPending(ctx, page)
		if err != nil {
			return relayed, fmt.Errorf("list outbox: %w", err)
		}
		if len(pending) == 0 {
			return relayed, nil
		}
		if err := i.journal.Append(ctx, pending...); err != nil {
			return relayed, fmt.Errorf("journal outbox: %w", err)
		}
		keys := make([]string, len(pending))
		for n, evt := range pending {
			keys[n] = evt.Key
		}
		if err := i.outbox.Remove(ctx, keys); err != nil {
			return relayed, fmt.Errorf("clear outbox: %w", err)
		}
		relayed += len(pending)
		if len(pending) < page {
			return relayed, nil
		}
	}
}

// run is the main loop
func (i *Indexer) run() {
	defer i.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-i.stopCh
		cancel()
	}()

	// Catch up immediately on start
	_, _ = i.RunOnce(ctx)

	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = i.RunOnce(ctx)
		case <-i.stopCh:
			return
		}
	}
}
