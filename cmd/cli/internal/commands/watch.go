package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/genjobs/internal/logger"
	"github.com/wolfeidau/genjobs/internal/models"
	"github.com/wolfeidau/genjobs/internal/watcher"
)

type WatchCmd struct {
	ClientFlags `embed:""`

	GenerationID   string        `arg:"" help:"generation to watch"`
	Interval       time.Duration `help:"poll interval while any job is in flight" default:"5s"`
	RefetchOnFocus bool          `help:"refetch when resumed with SIGCONT" default:"true" negatable:""`
	ExitWhenDone   bool          `help:"exit once every job has finished" default:"false"`
}

func (w *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Dev)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := w.newQueryCache(w.RefetchOnFocus)
	if err != nil {
		return err
	}

	c, err := w.newClient(cache)
	if err != nil {
		return err
	}

	jw := watcher.New(c.LiveJobs(), c, watcher.Options{
		Interval:       w.Interval,
		RefetchOnFocus: cache.Options().RefetchOnFocus,
	})
	defer jw.Close()

	// resuming a stopped terminal session counts as focus
	cont := make(chan os.Signal, 1)
	signal.Notify(cont, syscall.SIGCONT)
	defer signal.Stop(cont)

	snapshots := jw.Subscribe(ctx)
	jw.Bind(w.GenerationID)

	fmt.Println("Watching jobs (press Ctrl+C to stop)...")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cont:
			jw.Focus()
		case jobs, ok := <-snapshots:
			if !ok {
				return nil
			}

			// Clear screen and print updated jobs
			fmt.Print("\033[2J\033[H")
			fmt.Printf("Generation %s (updated at %s)\n\n", w.GenerationID, time.Now().Format(time.TimeOnly))
			printJobs(os.Stdout, pointers(jobs))

			if w.ExitWhenDone && allTerminal(jobs) {
				return nil
			}
		}
	}
}

func allTerminal(jobs []models.GenerationJob) bool {
	if len(jobs) == 0 {
		return false
	}
	for _, job := range jobs {
		if !job.Status.Terminal() {
			return false
		}
	}
	return true
}

func pointers(jobs []models.GenerationJob) []*models.GenerationJob {
	out := make([]*models.GenerationJob, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	return out
}
