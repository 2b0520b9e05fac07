package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/genjobs/internal/models"
	"github.com/wolfeidau/genjobs/internal/store"
	"github.com/wolfeidau/genjobs/internal/util"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ChangeServiceName is the connect service pushing job changes.
	ChangeServiceName = "genjobs.v1.JobChangeService"

	// WatchGenerationProcedure streams every JobChange of one generation.
	// The request is the generation id, each response a JobChange as a Struct.
	WatchGenerationProcedure = "/" + ChangeServiceName + "/WatchGeneration"
)

// ChangeService pushes row changes from the job store to connect clients.
type ChangeService struct {
	store store.JobStore
}

func NewChangeService(st store.JobStore) *ChangeService {
	return &ChangeService{store: st}
}

// Handler returns the procedure path and its handler.
func (s *ChangeService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	return WatchGenerationProcedure, connect.NewServerStreamHandler(WatchGenerationProcedure, s.WatchGeneration, opts...)
}

func (s *ChangeService) WatchGeneration(ctx context.Context, req *connect.Request[wrapperspb.StringValue], stream *connect.ServerStream[structpb.Struct]) error {
	generationID := strings.TrimSpace(req.Msg.GetValue())
	if generationID == "" {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("generation id is required"))
	}

	changes, err := s.store.WatchJobs(ctx, generationID)
	if err != nil {
		if errors.Is(err, store.ErrStoreClosed) {
			return connect.NewError(connect.CodeUnavailable, err)
		}
		return connect.NewError(connect.CodeInternal, err)
	}

	// headers only, the client's call returns once the subscription is live
	if err := stream.Send(nil); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Debug().Str("generation_id", generationID).Msg("Watching generation")

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				// store shut down
				return nil
			}

			msg, err := EncodeChange(change)
			if err != nil {
				return connect.NewError(connect.CodeInternal, err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// EncodeChange converts a change to its wire form.
func EncodeChange(change models.JobChange) (*structpb.Struct, error) {
	msg, err := util.ToStruct(change)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job change: %w", err)
	}
	return msg, nil
}

// DecodeChange converts a streamed message back into a change.
func DecodeChange(msg *structpb.Struct) (models.JobChange, error) {
	var change models.JobChange
	if err := util.FromStruct(msg, &change); err != nil {
		return change, fmt.Errorf("failed to decode job change: %w", err)
	}
	if change.Job.ID == "" {
		return change, errors.New("job change has no job id")
	}
	return change, nil
}
