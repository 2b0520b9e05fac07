package logger

import (
	"context"
	"errors"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
)

var _ connect.Interceptor = (*ConnectRequests)(nil)

// ConnectRequests logs connect calls and attaches a request logger to the context.
type ConnectRequests struct {
	logger zerolog.Logger
}

func NewConnectRequests(logger zerolog.Logger) *ConnectRequests {
	return &ConnectRequests{logger: logger}
}

func (c *ConnectRequests) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		started := time.Now()

		ctx = c.logger.With().
			Str("procedure", req.Spec().Procedure).
			Str("protocol", req.Peer().Protocol).
			Str("addr", req.Peer().Addr).
			Logger().WithContext(ctx)

		resp, err := next(ctx, req)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Dur("duration", time.Since(started)).Msg("rpc call")
			return resp, err
		}

		zerolog.Ctx(ctx).Info().Dur("duration", time.Since(started)).Msg("rpc call")
		return resp, nil
	}
}

func (c *ConnectRequests) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		ctx = c.logger.With().Str("procedure", spec.Procedure).Logger().WithContext(ctx)
		zerolog.Ctx(ctx).Debug().Msg("rpc client stream opened")
		return next(ctx, spec)
	}
}

func (c *ConnectRequests) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		started := time.Now()

		ctx = c.logger.With().
			Str("procedure", conn.Spec().Procedure).
			Str("protocol", conn.Peer().Protocol).
			Str("addr", conn.Peer().Addr).
			Logger().WithContext(ctx)

		zerolog.Ctx(ctx).Debug().Msg("rpc server stream opened")

		err := next(ctx, conn)
		if err != nil && (errors.Is(err, context.Canceled) || connect.CodeOf(err) == connect.CodeCanceled) {
			// watchers go away by disconnecting
			zerolog.Ctx(ctx).Debug().Dur("duration", time.Since(started)).Msg("rpc server stream canceled")
			return err
		}
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Dur("duration", time.Since(started)).Msg("rpc server stream error")
			return err
		}

		zerolog.Ctx(ctx).Info().Dur("duration", time.Since(started)).Msg("rpc server stream finished")
		return nil
	}
}
