package main

import (
	"context"
	"fmt"
	"time"

	"github.com/scott-cotton/cli"

	"github.com/cyberinferno/pingd/pingclient"
)

type checkConfig struct {
	*cli.Command
	Addr      string `cli:"name=addr desc='server address host:port (default 127.0.0.1:6379)'"`
	Count     int    `cli:"name=n desc='number of concurrent checks (default 1)'"`
	TimeoutMS int    `cli:"name=timeout-ms desc='overall timeout in milliseconds (default 5000)'"`
}

// CheckCommand returns the check subcommand.
func CheckCommand() *cli.Command {
	cfg := &checkConfig{Addr: defaultAddr, Count: 1, TimeoutMS: 5000}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}

	return cli.NewCommandAt(&cfg.Command, "check").
		WithSynopsis("check [opts] - ping a running server").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *checkConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	if cfg.Count < 1 {
		return fmt.Errorf("%w: -n must be at least 1", cli.ErrUsage)
	}

	addr := cfg.Addr
	if addr == "" {
		addr = defaultAddr
	}

	timeout := 5 * time.Second
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rtts, err := pingclient.CheckMany(ctx, pingclient.DefaultConfig(addr), cfg.Count)
	if err != nil {
		return fmt.Errorf("check %s: %w", addr, err)
	}

	for i, rtt := range rtts {
		fmt.Fprintf(cc.Out, "%d: PONG from %s in %s\n", i, addr, rtt)
	}

	return nil
}
