package util

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/genjobs/internal/models"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestToStruct_JobFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := models.GenerationJob{
		ID:           "0198a3b0-0000-7000-8000-000000000000",
		GenerationID: "gen-1",
		JobType:      "character",
		TargetID:     "char-1",
		Status:       models.JobStatusCompleted,
		Result:       json.RawMessage(`{"image_url":"/objects/a.png","scores":[1,2]}`),
		CreatedAt:    now,
		UpdatedAt:    now.Add(time.Minute),
	}

	s, err := ToStruct(job)
	require.NoError(t, err)
	require.Equal(t, "completed", s.Fields["status"].GetStringValue())
	require.Equal(t, "/objects/a.png", s.Fields["result"].GetStructValue().Fields["image_url"].GetStringValue())
	require.NotContains(t, s.Fields, "error_message")

	var got models.GenerationJob
	require.NoError(t, FromStruct(s, &got))
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, job.Status, got.Status)
	require.True(t, job.UpdatedAt.Equal(got.UpdatedAt))
	require.JSONEq(t, string(job.Result), string(got.Result))
}

func TestToStruct_RejectsNonObjects(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{name: "string", input: "plain"},
		{name: "array", input: []int{1, 2}},
		{name: "unencodable", input: make(chan int)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToStruct(tt.input)
			require.Error(t, err)
		})
	}
}

func TestFromStruct_Nil(t *testing.T) {
	var out map[string]any
	require.Error(t, FromStruct(nil, &out))

	require.NoError(t, FromStruct(&structpb.Struct{}, &out))
	require.Empty(t, out)
}
