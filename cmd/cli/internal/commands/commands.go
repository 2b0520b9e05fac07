package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/wolfeidau/genjobs/internal/client"
	"github.com/wolfeidau/genjobs/internal/models"
)

type Globals struct {
	Dev     bool
	Version string
}

// ClientFlags are shared by every command talking to the server.
type ClientFlags struct {
	Server  string        `help:"Server URL" default:"http://localhost:8080" env:"GENJOBS_SERVER"`
	Token   string        `help:"API bearer token" env:"GENJOBS_TOKEN"`
	Timeout time.Duration `help:"timeout of a single API call" default:"10m"`

	Retries   int           `help:"retries of a failed read, 0 disables retrying" default:"${default_retries}"`
	StaleTime time.Duration `help:"serve cached job lists for this long, 0 keeps the server's max-age" default:"0s"`
	CacheDir  string        `help:"keep cached reads on disk in this directory" type:"path" env:"GENJOBS_CACHE_DIR"`
}

func (f *ClientFlags) newQueryCache(refetchOnFocus bool) (*client.QueryCache, error) {
	cache, err := client.NewQueryCache(client.QueryCacheOptions{
		StaleTime:      f.StaleTime,
		Retries:        f.Retries,
		RefetchOnFocus: refetchOnFocus,
		CacheDir:       f.CacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cache options: %w", err)
	}
	return cache, nil
}

func (f *ClientFlags) newClient(cache *client.QueryCache) (*client.Client, error) {
	otelInterceptor, err := otelconnect.NewInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create interceptor: %w", err)
	}

	c, err := client.New(client.Config{
		ServerURL:    f.Server,
		Token:        f.Token,
		Timeout:      f.Timeout,
		Cache:        cache,
		Interceptors: []connect.Interceptor{otelInterceptor},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

func printJobs(w io.Writer, jobs []*models.GenerationJob) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tTYPE\tTARGET\tSTATUS\tUPDATED\tERROR")
	for _, job := range jobs {
		target := job.TargetID
		if target == "" {
			target = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			job.ID,
			job.JobType,
			target,
			strings.ToUpper(string(job.Status)),
			job.UpdatedAt.Local().Format(time.DateTime),
			truncate(job.ErrorMessage, 60),
		)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
