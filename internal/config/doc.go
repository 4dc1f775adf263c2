// Package config manages application configuration for the Somi API.
//
// Configuration is parsed from environment variables with caarlos0/env and
// then checked as a whole:
//
//	cfg, err := config.Load()
//	if err != nil { ... }
//	if err := cfg.Validate(); err != nil { ... }
//
// # Configuration Groups
//
//   - ServerConfig: HTTP server settings (port, timeouts, CORS, log level)
//   - DatabaseConfig: SurrealDB connection settings
//   - StorageConfig: sqlite event journal and bbolt projection paths
//   - JWTConfig: bearer token verification
//   - PodConfig: pod activation policy (threshold or on_close)
//   - JobsConfig: batch claim spacing, indexer cadence, live feed and
//     maturity alert timing
//   - TelemetryConfig: OpenTelemetry exporter
//
// # Environment Variables
//
//	SERVER_PORT               - HTTP server port (default: 8080)
//	SERVER_ENV                - development, production or test
//	LOG_LEVEL                 - debug, info, warn or error
//	DB_HOST, DB_PORT          - SurrealDB address
//	JOURNAL_PATH              - sqlite event journal file
//	PROJECTION_PATH           - bbolt aggregator snapshot file
//	JWT_SECRET                - HMAC secret for bearer tokens
//	POD_ACTIVATION_POLICY     - threshold or on_close
//	POD_ACTIVATION_THRESHOLD  - members needed to activate (3..5)
//	BATCH_CLAIM_DELAY         - spacing between batch claims (default: 2s)
//	INDEXER_INTERVAL          - journal tail period (default: 5s)
//	FEED_HEARTBEAT            - SSE heartbeat period (default: 30s)
//	MATURITY_INTERVAL         - maturity scan period (default: 1m)
//	MATURITY_WINDOW           - how early to warn of maturity (default: 24h)
//	OTEL_EXPORTER_ENDPOINT    - OTLP/HTTP collector; tracing is off when empty
package config
