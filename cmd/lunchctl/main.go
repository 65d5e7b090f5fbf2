package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"lunch-menu-bot/internal/config"
)

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("lunchctl"),
		kong.Description("Operate the lunch menu bot from the command line."),
		kong.UsageOnError(),
	)

	if err := config.LoadDotEnv(cli.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.NewFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cli.Server != "" {
		cfg.AdminURL = cli.Server
	}

	err = ctx.Run(&Global{Config: cfg, Out: os.Stdout})
	ctx.FatalIfErrorf(err)
}
