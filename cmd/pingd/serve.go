package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/scott-cotton/cli"

	"github.com/cyberinferno/pingd/failure"
	"github.com/cyberinferno/pingd/logger"
	"github.com/cyberinferno/pingd/tcpserver"
)

const defaultAddr = "127.0.0.1:6379"

type serveConfig struct {
	*cli.Command
	Addr      string `cli:"name=addr desc='listen address host:port (default 127.0.0.1:6379)'"`
	Capacity  int    `cli:"name=capacity desc='failure records buffered before handlers block, 0 for hand-off (default 100)'"`
	Chunk     int    `cli:"name=chunk desc='bytes requested per read (default 512)'"`
	MaxBuffer int    `cli:"name=max-buffer desc='per-connection request buffer cap in bytes (default 65536)'"`
	LogDir    string `cli:"name=logdir desc='also write daily rotated JSON logs to this directory'"`
	Debug     bool   `cli:"name=debug desc='log at debug level'"`
}

// ServeCommand returns the serve subcommand.
func ServeCommand() *cli.Command {
	defaults := tcpserver.DefaultConfig(defaultAddr)
	cfg := &serveConfig{
		Addr:      defaults.Address,
		Capacity:  defaults.Capacity,
		Chunk:     defaults.ReadChunkSize,
		MaxBuffer: defaults.MaxRequestBuffer,
	}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}

	return cli.NewCommandAt(&cfg.Command, "serve").
		WithSynopsis("serve [opts] - run the liveness-check server").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *serveConfig) serverConfig() tcpserver.Config {
	sc := tcpserver.DefaultConfig(cfg.Addr)
	if sc.Address == "" {
		sc.Address = defaultAddr
	}

	sc.Capacity = cfg.Capacity
	if cfg.Chunk > 0 {
		sc.ReadChunkSize = cfg.Chunk
	}

	if cfg.MaxBuffer > 0 {
		sc.MaxRequestBuffer = cfg.MaxBuffer
	}

	return sc
}

func (cfg *serveConfig) newLogger(name string) (logger.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}

	if cfg.LogDir != "" {
		return logger.NewZerologFileLogger(name, cfg.LogDir, level)
	}

	return logger.NewConsoleLogger(name, level), nil
}

func (cfg *serveConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	sc := cfg.serverConfig()
	log, err := cfg.newLogger(sc.Name)
	if err != nil {
		return err
	}
	defer log.Close()

	srv, err := tcpserver.New(sc, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		log.Info("signal received, closing listener")
		_ = srv.Close()
		err = <-done
	}

	if err != nil {
		reportFailure(log, err)
	}

	return err
}

// reportFailure logs every record of the final outcome on its own line.
func reportFailure(log logger.Logger, err error) {
	rec := failure.From(err)
	for _, r := range rec.Records() {
		log.Error("service failure", logger.Err(r), logger.Field{Key: "kind", Value: r.Kind.String()})
	}
}
