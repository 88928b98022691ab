package main

import (
	"context"

	"github.com/scott-cotton/cli"
)

const usageText = `pingd - TCP liveness-check server

Usage:
  pingd serve [-addr host:port] [-capacity n] [-chunk n] [-max-buffer n] [-logdir dir] [-debug]
  pingd check [-addr host:port] [-n count] [-timeout-ms ms]

The server answers every "PING\r\n" it receives with "+PONG\r\n".`

func main() {
	cli.MainContext(context.Background(), Root())
}

// Root returns the root command.
func Root() *cli.Command {
	return cli.NewCommand("pingd").
		WithSynopsis("pingd <command> [opts]").
		WithDescription(usageText).
		WithSubs(
			ServeCommand(),
			CheckCommand(),
		)
}
