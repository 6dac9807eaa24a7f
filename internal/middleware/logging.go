package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/tripledger/internal/api"
	"github.com/mmynk/tripledger/internal/metrics"
)

// LoggingInterceptor returns a Connect interceptor that logs every RPC call.
// Mount it inside RequireAuth so the caller is known. Requests the client
// got wrong log at Warn; faults on our side log at Error.
func LoggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()

			resp, err := next(ctx, req)

			attrs := []any{
				"procedure", req.Spec().Procedure,
				"member_id", GetMemberID(ctx),
				"peer", req.Peer().Addr,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			switch {
			case err == nil:
				slog.Info("RPC ok", attrs...)
			case api.IsPermanent(err):
				slog.Warn("RPC rejected", append(attrs, "code", connect.CodeOf(err), "error", errorMessage(err))...)
			default:
				slog.Error("RPC failed", append(attrs, "code", connect.CodeOf(err), "error", err)...)
			}
			return resp, err
		}
	}
}

// errorMessage drops the code prefix Connect adds to Error().
func errorMessage(err error) string {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr.Message()
	}
	return err.Error()
}

// MetricsInterceptor records a request count and latency per procedure.
func MetricsInterceptor(m *metrics.Server) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			procedure := req.Spec().Procedure

			resp, err := next(ctx, req)

			code := "ok"
			if err != nil {
				code = connect.CodeOf(err).String()
			}
			m.Requests.WithLabelValues(procedure, code).Inc()
			m.Duration.WithLabelValues(procedure).Observe(time.Since(start).Seconds())
			return resp, err
		}
	}
}
