package client

import (
	"context"
	"fmt"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/genjobs/internal/models"
	"github.com/wolfeidau/genjobs/internal/server"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// WatchJobs opens the change stream of a generation. The channel closes when
// the stream ends or ctx is done, it is not reopened.
func (c *Client) WatchJobs(ctx context.Context, generationID string) (<-chan models.JobChange, error) {
	req := connect.NewRequest(wrapperspb.String(generationID))
	c.authorize(req.Header())

	stream, err := c.changes.CallServerStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}

	out := make(chan models.JobChange, 16)

	go func() {
		defer close(out)
		defer stream.Close()

		logger := log.With().Str("generation_id", generationID).Logger()

		for stream.Receive() {
			change, err := server.DecodeChange(stream.Msg())
			if err != nil {
				logger.Warn().Err(err).Msg("Skipping undecodable job change")
				continue
			}

			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("Job change stream ended")
		}
	}()

	return out, nil
}

// LiveJobs lists jobs without the query cache, for watchers reconciling
// against the store.
type LiveJobs struct {
	client *Client
}

func (c *Client) LiveJobs() *LiveJobs {
	return &LiveJobs{client: c}
}

func (l *LiveJobs) ListJobs(ctx context.Context, generationID string) ([]*models.GenerationJob, error) {
	return l.client.RefetchJobs(ctx, generationID)
}
