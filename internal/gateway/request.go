package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/wolfeidau/genjobs/internal/models"
)

// ErrInvalidRequest wraps every submission validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// Request is a generation submission.
type Request struct {
	GenerationID string          `json:"generation_id" yaml:"generation_id"`
	JobType      string          `json:"job_type" yaml:"job_type"`
	TargetID     string          `json:"target_id" yaml:"target_id"`
	BackendPath  string          `json:"backend_path" yaml:"backend_path"`
	Payload      json.RawMessage `json:"payload" yaml:"-"`
}

func (r *Request) Key() models.JobKey {
	return models.JobKey{GenerationID: r.GenerationID, JobType: r.JobType, TargetID: r.TargetID}
}

// Validate checks required fields and the backend path. A non-empty allowed
// set restricts backend paths to its members.
func (r *Request) Validate(allowed map[string]struct{}) error {
	switch {
	case r.GenerationID == "":
		return invalid("generation_id is required")
	case r.JobType == "":
		return invalid("job_type is required")
	case r.BackendPath == "":
		return invalid("backend_path is required")
	}

	if err := validateBackendPath(r.BackendPath); err != nil {
		return err
	}

	if len(allowed) > 0 {
		if _, ok := allowed[r.BackendPath]; !ok {
			return invalid(fmt.Sprintf("backend_path %s is not an allowed route", r.BackendPath))
		}
	}

	if len(r.Payload) > 0 && !isObject(r.Payload) {
		return invalid("payload must be a JSON object")
	}

	return nil
}

func validateBackendPath(path string) error {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return invalid("backend_path must be an absolute path")
	}

	u, err := url.Parse(path)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return invalid("backend_path must be an absolute path")
	}

	for _, segment := range strings.Split(u.Path, "/") {
		if segment == ".." {
			return invalid("backend_path must not contain ..")
		}
	}

	return nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return true
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}

// ValidationMessage strips the ErrInvalidRequest prefix for API responses.
func ValidationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": ")
}
