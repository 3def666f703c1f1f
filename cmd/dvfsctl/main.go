// Binary dvfsctl inspects and controls a running dvfsd through its control
// API, and replays recorded tick traces offline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/transport"
)

var (
	addr    = flag.String("addr", envOr("DVFSCTL_ADDR", "http://127.0.0.1:8080"), "dvfsd control API base URL.")
	token   = flag.String("token", os.Getenv("DVFS_CONTROL_TOKEN"), "bearer token for control writes.")
	retries = flag.Int("retries", 2, "retries for 5xx and 429 responses.")
	timeout = flag.Duration("timeout", 10*time.Second, "per-request timeout.")
	verbose = flag.Bool("v", false, "log every request.")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(new(Status), "inspect")
	subcommands.Register(new(Table), "inspect")

	subcommands.Register(new(Lock), "control")
	subcommands.Register(new(Unlock), "control")
	subcommands.Register(new(Governor), "control")
	subcommands.Register(new(Boost), "control")
	subcommands.Register(new(Thermal), "control")
	subcommands.Register(&Toggle{enable: true}, "control")
	subcommands.Register(&Toggle{enable: false}, "control")

	subcommands.Register(new(Replay), "offline")

	flag.Parse()

	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	os.Exit(int(subcommands.Execute(context.Background(), clientFactory(newClient))))
}

// clientFactory is passed to every command as its first argument so that
// offline commands never dial the daemon.
type clientFactory func() *transport.Client

func newClient() *transport.Client {
	cfg := transport.Config{
		BaseURL:        *addr,
		Token:          *token,
		RequestTimeout: *timeout,
		MaxRetries:     *retries,
	}
	if *verbose {
		cfg.Logger = slog.Default()
	}
	return transport.NewClient(cfg)
}

func clientFrom(args []any) *transport.Client {
	return args[0].(clientFactory)()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// fail prints err and returns the failure exit status.
func fail(format string, a ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "dvfsctl: "+format+"\n", a...)
	return subcommands.ExitFailure
}
