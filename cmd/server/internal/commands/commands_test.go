package commands

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/genjobs/internal/models"
)

func TestServeCmdValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     ServeCmd
		wantErr bool
	}{
		{name: "jwt secret", cmd: ServeCmd{JWTSecret: "0123456789abcdef0123456789abcdef"}},
		{name: "no auth", cmd: ServeCmd{NoAuth: true}},
		{name: "missing secret", cmd: ServeCmd{}, wantErr: true},
		{name: "cert without key", cmd: ServeCmd{NoAuth: true, Cert: "cert.pem"}, wantErr: true},
		{name: "cert and key", cmd: ServeCmd{NoAuth: true, Cert: "cert.pem", Key: "key.pem"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOpenStore_Memory(t *testing.T) {
	flags := StoreFlags{StoreType: "memory"}

	st, closeStore, err := flags.openStore(context.Background())
	require.NoError(t, err)
	defer closeStore()

	job, err := st.CreateJob(context.Background(), models.JobKey{GenerationID: "gen-1", JobType: "script"})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusGenerating, job.Status)
}

func TestOpenStore_PostgresRequiresConnString(t *testing.T) {
	flags := StoreFlags{StoreType: "postgres"}

	_, _, err := flags.openStore(context.Background())
	require.ErrorContains(t, err, "connection string is required")
}

func TestWithCORS(t *testing.T) {
	h := withCORS([]string{"http://localhost:3000"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization,Content-Type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
