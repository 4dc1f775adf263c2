package service

import "go.opentelemetry.io/otel"

// tracer resolves against the global provider, a no-op until telemetry is set up
var tracer = otel.Tracer("github.com/forgo/somi/api/internal/service")
