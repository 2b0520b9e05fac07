package store

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/genjobs/internal/models"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     models.JobKey
		wantErr bool
	}{
		{name: "full key", key: models.JobKey{GenerationID: "gen-1", JobType: "character", TargetID: "c1"}},
		{name: "empty target is allowed", key: models.JobKey{GenerationID: "gen-1", JobType: "script"}},
		{name: "missing generation", key: models.JobKey{JobType: "script"}, wantErr: true},
		{name: "missing job type", key: models.JobKey{GenerationID: "gen-1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
		})
	}
}
