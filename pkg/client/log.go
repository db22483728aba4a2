package client

import (
	"context"
	"errors"
	"log/slog"

	"github.com/zitadel/logging"

	"github.com/oidc-rp/rpcore/pkg/oidc"
)

func isASError(err error) bool {
	var asErr *oidc.ASError
	return errors.As(err, &asErr)
}

// loggerFromContext returns the context-scoped *slog.Logger a caller may
// have attached via logging.ToContext, or slog.Default() when none is set,
// mirroring the teacher's logCtxWithRPData / Logger(ctx) fallback pattern.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := logging.FromContext(ctx); ok {
		return logger
	}
	return slog.Default()
}

// logFlowStart/logFlowEnd bracket a flow function at debug level; no
// secrets (tokens, client_secret, signed assertions) are ever logged.
func logFlowStart(ctx context.Context, flow string, attrs ...any) {
	loggerFromContext(ctx).DebugContext(ctx, "rp: starting flow", append([]any{"flow", flow}, attrs...)...)
}

func logFlowEnd(ctx context.Context, flow string, err error) {
	if err != nil {
		logFlowError(ctx, flow, err)
		return
	}
	loggerFromContext(ctx).DebugContext(ctx, "rp: flow completed", "flow", flow)
}

// logFlowError logs at warn level for AS-origin errors (spec.md §7 — these
// are the caller's to retry) and at debug level for anything else, since
// RP assertion errors and context cancellation are already surfaced to the
// caller as return values.
func logFlowError(ctx context.Context, flow string, err error) {
	logger := loggerFromContext(ctx)
	if isASError(err) {
		logger.WarnContext(ctx, "rp: authorization server returned an error", "flow", flow, "error", err)
		return
	}
	logger.DebugContext(ctx, "rp: flow failed", "flow", flow, "error", err)
}
