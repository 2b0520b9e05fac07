package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/genjobs/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSubmitCmdRequest(t *testing.T) {
	yamlConfig := writeFile(t, "request.yaml", `
generation_id: gen-1
job_type: character
target_id: c1
backend_path: /generate/character
payload:
  name: Ada
  traits: [curious, brave]
`)
	jsonConfig := writeFile(t, "request.json", `{"generation_id":"gen-2","job_type":"script","backend_path":"/generate/script","payload":{"prompt":"a fox"}}`)

	tests := []struct {
		name        string
		cmd         SubmitCmd
		wantErr     string
		wantKey     models.JobKey
		wantPath    string
		wantPayload string
	}{
		{
			name:        "flags only",
			cmd:         SubmitCmd{GenerationID: "gen-1", JobType: "image", BackendPath: "/generate/image"},
			wantKey:     models.JobKey{GenerationID: "gen-1", JobType: "image"},
			wantPath:    "/generate/image",
			wantPayload: `{}`,
		},
		{
			name:        "yaml file",
			cmd:         SubmitCmd{Config: yamlConfig},
			wantKey:     models.JobKey{GenerationID: "gen-1", JobType: "character", TargetID: "c1"},
			wantPath:    "/generate/character",
			wantPayload: `{"name":"Ada","traits":["curious","brave"]}`,
		},
		{
			name:        "json file with flag override",
			cmd:         SubmitCmd{Config: jsonConfig, JobType: "story", Payload: `{"prompt":"a hen"}`},
			wantKey:     models.JobKey{GenerationID: "gen-2", JobType: "story"},
			wantPath:    "/generate/script",
			wantPayload: `{"prompt":"a hen"}`,
		},
		{
			name:    "missing backend path",
			cmd:     SubmitCmd{GenerationID: "gen-1", JobType: "image"},
			wantErr: "backend_path is required",
		},
		{
			name:    "payload not an object",
			cmd:     SubmitCmd{GenerationID: "gen-1", JobType: "image", BackendPath: "/generate/image", Payload: `[1]`},
			wantErr: "payload must be a JSON object",
		},
		{
			name:    "missing file",
			cmd:     SubmitCmd{Config: filepath.Join(t.TempDir(), "missing.yaml")},
			wantErr: "failed to load config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.cmd.request()
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantKey, req.Key())
			require.Equal(t, tt.wantPath, req.BackendPath)
			require.JSONEq(t, tt.wantPayload, string(req.Payload))
		})
	}
}

func TestPrintJobs(t *testing.T) {
	var buf bytes.Buffer
	printJobs(&buf, nil)
	require.Equal(t, "No jobs found.\n", buf.String())

	buf.Reset()
	printJobs(&buf, []*models.GenerationJob{
		{ID: "j1", JobType: "script", Status: models.JobStatusCompleted, UpdatedAt: time.Now()},
		{ID: "j2", JobType: "character", TargetID: "c1", Status: models.JobStatusFailed, ErrorMessage: "quota exceeded", UpdatedAt: time.Now()},
	})

	out := buf.String()
	require.Contains(t, out, "JOB ID")
	require.Contains(t, out, "COMPLETED")
	require.Contains(t, out, "quota exceeded")
	require.Contains(t, out, "c1")
}

func TestAllTerminal(t *testing.T) {
	require.False(t, allTerminal(nil))
	require.False(t, allTerminal([]models.GenerationJob{{Status: models.JobStatusCompleted}, {Status: models.JobStatusGenerating}}))
	require.True(t, allTerminal([]models.GenerationJob{{Status: models.JobStatusCompleted}, {Status: models.JobStatusFailed}}))
}

func TestClientFlagsQueryCache(t *testing.T) {
	t.Run("zero retries is kept", func(t *testing.T) {
		f := ClientFlags{Retries: 0, StaleTime: time.Minute}
		cache, err := f.newQueryCache(true)
		require.NoError(t, err)
		require.Zero(t, cache.Options().Retries)
		require.Equal(t, time.Minute, cache.Options().StaleTime)
		require.True(t, cache.Options().RefetchOnFocus)
	})

	t.Run("negative retries rejected", func(t *testing.T) {
		f := ClientFlags{Retries: -1}
		_, err := f.newQueryCache(false)
		require.ErrorContains(t, err, "invalid cache options")
	})
}
