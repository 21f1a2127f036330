package authority

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"

	"ticketpay/apperr"
)

// callTimeout bounds every authority call; these sit on the settlement
// critical path.
const callTimeout = 500 * time.Millisecond

// breakerConsecutiveFailures opens the circuit; breakerOpenWindow keeps it
// open before a probe is allowed through.
const (
	breakerConsecutiveFailures = 10
	breakerOpenWindow          = 60 * time.Second
)

type caller struct {
	conn    *grpc.ClientConn
	name    string
	breaker *gobreaker.CircuitBreaker[any]
	timeout time.Duration
}

func dial(target, name string) (*caller, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, err
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    name,
		Timeout: breakerOpenWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
	})
	return &caller{conn: conn, name: name, breaker: breaker, timeout: callTimeout}, nil
}

func (c *caller) invoke(ctx context.Context, method string, req, resp wireMessage) error {
	_, err := c.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return nil, c.conn.Invoke(callCtx, method, req, resp, grpc.ForceCodec(wireCodec{}))
	})
	if err != nil {
		return c.mapError(err)
	}
	return nil
}

func (c *caller) mapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Unavailable("The " + c.name + " is currently unavailable, try again later").WithCause(err)
	}
	if st, ok := grpcstatus.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return apperr.Timeout("Request timed out").WithCause(err)
		case codes.Unavailable:
			return apperr.Unavailable("The " + c.name + " is currently unavailable, try again later").WithCause(err)
		case codes.NotFound:
			return apperr.NotFound(st.Message()).WithCause(err)
		case codes.InvalidArgument:
			return apperr.BadRequest(st.Message()).WithCause(err)
		case codes.Unauthenticated:
			return apperr.New(401, "unauthenticated", st.Message()).WithCause(err)
		case codes.PermissionDenied:
			return apperr.Forbidden(st.Message()).WithCause(err)
		}
	}
	return apperr.Internal("Something went wrong, try again later").WithCause(err)
}

func (c *caller) close() error { return c.conn.Close() }
