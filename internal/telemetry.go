package internal

import (
	"context"
	"strconv"
	"sync"
)

// Telemetry hooks for the statement executor. The default emitter is a no-op;
// service wiring may register a metrics-backed emitter or a test stub.

type TelemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

var (
	teleMu   sync.Mutex
	teleImpl TelemetryEmitter = func(ctx context.Context, name string, labels map[string]string, value any) {}
)

// RegisterTelemetryEmitter replaces the emitter. nil restores the no-op.
func RegisterTelemetryEmitter(fn TelemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(ctx context.Context, name string, labels map[string]string, value any) {}
		return
	}
	teleImpl = fn
}

func emitter() TelemetryEmitter {
	teleMu.Lock()
	defer teleMu.Unlock()
	return teleImpl
}

// EmitLatency records statement latency in milliseconds.
// name: "tabula_statement_latency_ms" with label {"kind": "query"|"exec"}
func EmitLatency(ctx context.Context, kind string, ms int64) {
	emitter()(ctx, "tabula_statement_latency_ms", map[string]string{"kind": kind}, ms)
}

// EmitCacheResult records a result cache lookup.
// name: "tabula_result_cache" with label {"hit": "true"|"false"}
func EmitCacheResult(ctx context.Context, hit bool) {
	emitter()(ctx, "tabula_result_cache", map[string]string{"hit": strconv.FormatBool(hit)}, 1)
}

// EmitConnectionState records a connection state transition.
// name: "tabula_connection_state" with label {"state": "<state>"}
func EmitConnectionState(ctx context.Context, state ConnState) {
	emitter()(ctx, "tabula_connection_state", map[string]string{"state": state.String()}, 1)
}
