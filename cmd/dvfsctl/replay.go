package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/config"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/trace"
)

// Replay implements subcommands.Command for the "replay" command.
type Replay struct {
	platform string
	governor string
	steps    bool
	json     bool
}

// Name implements subcommands.Command.Name.
func (*Replay) Name() string { return "replay" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Replay) Synopsis() string { return "replay a recorded tick trace through a governor" }

// Usage implements subcommands.Command.Usage.
func (*Replay) Usage() string {
	return `replay [-platform <file>] [-governor <type>] [-steps] <trace.zst> - feed the
recorded utilization through a governor offline and report how many decisions
differ from the recorded ones.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Replay) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.platform, "platform", "", "platform file the trace was recorded with; empty for the built-in one.")
	f.StringVar(&r.governor, "governor", "", "governor to replay with; empty for the recorded one.")
	f.BoolVar(&r.steps, "steps", false, "print every decided step.")
	f.BoolVar(&r.json, "json", false, "print the raw JSON result.")
}

// Execute implements subcommands.Command.Execute.
func (r *Replay) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	recs, err := trace.ReadFile(f.Arg(0))
	if err != nil {
		return fail("replay: %v", err)
	}
	if len(recs) == 0 {
		return fail("replay: %s holds no ticks", f.Arg(0))
	}

	p, err := config.LoadPlatform(r.platform)
	if err != nil {
		return fail("replay: %v", err)
	}
	tbl, err := p.BuildTable()
	if err != nil {
		return fail("replay: %v", err)
	}

	gov := r.governor
	if gov == "" {
		gov = recs[0].Governor
	}
	params, err := p.DeviceParams(config.Config{DeviceName: "replay", Governor: gov})
	if err != nil {
		return fail("replay: %v", err)
	}

	res, err := trace.Replay(recs, tbl, params.Governor, params.GovernorParams)
	if err != nil {
		return fail("replay: %v", err)
	}

	if r.json {
		return printJSON(res)
	}
	fmt.Printf("governor %s: %d ticks, %d skipped, %d mismatches\n", res.Governor, res.Ticks, res.Skipped, res.Mismatches)
	if r.steps {
		for i, s := range res.Steps {
			fmt.Printf("%d\t%d\n", i, s)
		}
	}
	if res.Mismatches > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
