package main

import (
	"context"
	"strconv"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/wolfeidau/genjobs/cmd/cli/internal/commands"
	"github.com/wolfeidau/genjobs/internal/client"
)

var (
	version = "dev"
	cli     struct {
		Submit  commands.SubmitCmd `cmd:"" help:"Submit a generation job"`
		Jobs    commands.JobsCmd   `cmd:"" help:"List the jobs of a generation"`
		Watch   commands.WatchCmd  `cmd:"" help:"Watch the jobs of a generation until interrupted"`
		Dev     bool               `help:"Enable development logging." env:"GENJOBS_DEV"`
		Version kong.VersionFlag
	}
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("genjobs"),
		kong.Vars{
			"version":         version,
			"default_retries": strconv.Itoa(client.DefaultRetries),
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Dev: cli.Dev, Version: version})
	cmd.FatalIfErrorf(err)
}
