package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/wolfeidau/genjobs/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Dev     bool `help:"Enable development logging." env:"GENJOBS_DEV"`
		Version kong.VersionFlag
		Serve   commands.ServeCmd   `cmd:"" help:"Start the API server, change stream and stale job sweeper"`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply PostgreSQL migrations"`
		Sweep   commands.SweepCmd   `cmd:"" help:"Fail stale generating jobs once"`
		Token   commands.TokenCmd   `cmd:"" help:"Issue an API bearer token"`
	}
)

func main() {
	// a missing .env is fine, the environment may be set directly
	_ = godotenv.Load()

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("genjobs-server"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Dev: cli.Dev, Version: version})
	cmd.FatalIfErrorf(err)
}
