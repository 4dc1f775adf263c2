// Package jobs implements background job processing for the savings engine.
//
// Jobs run independently of HTTP request handling and follow one shape:
// a constructor taking a config struct, Start and Stop for the ticker
// loop, and a single-pass method (RunOnce, Check) that tests and the CLI
// can call directly.
//
// # Indexer
//
// The Indexer tails the event journal into the aggregator. Each pass
// replays events after the aggregator checkpoint, so a restarted process
// resumes where the projection store left off:
//
//	idx := jobs.NewIndexer(jobs.IndexerConfig{
//	    Replayer: aggregator,
//	    Source:   journalStore,
//	    Interval: cfg.IndexerInterval,
//	})
//	idx.Start()
//	defer idx.Stop()
//
// # Maturity Monitor
//
// The MaturityMonitor scans open fixed-term positions and pushes an alert
// to the owner's live stream when one is about to mature and again once it
// has. Repeats are suppressed for a cooldown:
//
//	monitor := jobs.NewMaturityMonitor(jobs.MaturityMonitorConfig{
//	    Source:   positionRepo,
//	    Notifier: eventHub,
//	    Window:   24 * time.Hour,
//	})
//	monitor.Start()
//	defer monitor.Stop()
//
// # Error Handling
//
// Jobs log errors but don't crash the application. A failed pass is
// retried on the next tick from the same checkpoint.
package jobs
