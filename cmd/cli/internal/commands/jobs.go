package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

)

type JobsCmd struct {
	ClientFlags `embed:""`

	GenerationID string `arg:"" help:"generation to list"`
	JSON         bool   `help:"print the jobs as JSON" default:"false"`
}

func (j *JobsCmd) Run(ctx context.Context, globals *Globals) error {
	cache, err := j.newQueryCache(false)
	if err != nil {
		return err
	}

	c, err := j.newClient(cache)
	if err != nil {
		return err
	}

	jobs, err := c.ListJobs(ctx, j.GenerationID)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if j.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	fmt.Printf("Jobs of generation %s:\n", j.GenerationID)
	printJobs(os.Stdout, jobs)
	return nil
}
