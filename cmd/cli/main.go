package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/tenantd/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Backfill commands.BackfillCmd `cmd:"" help:"Backfill local organization records from the provider"`
		Debug    bool                 `help:"Enable debug mode."`
		Version  kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
