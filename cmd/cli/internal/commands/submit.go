package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/wolfeidau/genjobs/internal/gateway"
	"gopkg.in/yaml.v3"
)

// SubmitConfig is the request file format of the submit command.
type SubmitConfig struct {
	GenerationID string         `yaml:"generation_id" json:"generation_id"`
	JobType      string         `yaml:"job_type" json:"job_type"`
	TargetID     string         `yaml:"target_id" json:"target_id"`
	BackendPath  string         `yaml:"backend_path" json:"backend_path"`
	Payload      map[string]any `yaml:"payload" json:"payload"`
}

type SubmitCmd struct {
	ClientFlags `embed:""`

	GenerationID string `help:"generation the job belongs to"`
	JobType      string `help:"kind of generation, such as script or character"`
	TargetID     string `help:"entity within the generation the job targets"`
	BackendPath  string `help:"backend route that performs the generation"`
	Payload      string `help:"JSON object forwarded to the backend"`
	Config       string `help:"YAML/JSON request file path" type:"existingfile"`
	Async        bool   `help:"return once the job is recorded instead of waiting for the result" default:"false"`
}

func (s *SubmitCmd) Run(ctx context.Context, globals *Globals) error {
	req, err := s.request()
	if err != nil {
		return err
	}

	c, err := s.newClient(nil)
	if err != nil {
		return err
	}

	if s.Async {
		resp, err := c.SubmitAsync(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to submit job: %w", err)
		}
		fmt.Printf("Job %s is %s\n", resp.JobID, resp.Status)
		return nil
	}

	fmt.Fprintf(os.Stderr, "Submitting %s job for generation %s to %s\n", req.JobType, req.GenerationID, s.Server)

	res, err := c.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	if res.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(res.Body, &body); err == nil && body.Error != "" {
			return fmt.Errorf("generation failed (HTTP %d): %s", res.StatusCode, body.Error)
		}
		return fmt.Errorf("generation failed (HTTP %d)", res.StatusCode)
	}

	_, err = fmt.Fprintln(os.Stdout, string(res.Body))
	return err
}

// request builds the submission from the request file, with flags taking
// precedence over file values.
func (s *SubmitCmd) request() (gateway.Request, error) {
	var cfg SubmitConfig
	if s.Config != "" {
		loaded, err := loadSubmitConfig(s.Config)
		if err != nil {
			return gateway.Request{}, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg = *loaded
	}

	req := gateway.Request{
		GenerationID: firstNonEmpty(s.GenerationID, cfg.GenerationID),
		JobType:      firstNonEmpty(s.JobType, cfg.JobType),
		TargetID:     firstNonEmpty(s.TargetID, cfg.TargetID),
		BackendPath:  firstNonEmpty(s.BackendPath, cfg.BackendPath),
	}

	switch {
	case s.Payload != "":
		req.Payload = json.RawMessage(s.Payload)
	case cfg.Payload != nil:
		payload, err := json.Marshal(cfg.Payload)
		if err != nil {
			return gateway.Request{}, fmt.Errorf("failed to encode payload: %w", err)
		}
		req.Payload = payload
	default:
		req.Payload = json.RawMessage(`{}`)
	}

	if err := req.Validate(nil); err != nil {
		return gateway.Request{}, errors.New(gateway.ValidationMessage(err))
	}

	return req, nil
}

func loadSubmitConfig(path string) (*SubmitConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg SubmitConfig

	// Determine file format by extension
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
