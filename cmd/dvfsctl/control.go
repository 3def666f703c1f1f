package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/subcommands"

	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

func printAction(resp *model.ActionResponse) subcommands.ExitStatus {
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	if st := resp.Status; st != nil {
		fmt.Printf("clock %d MHz, window %d..%d MHz, governor %s\n", st.CurClock, st.MinLock, st.MaxLock, st.Governor)
	}
	return subcommands.ExitSuccess
}

func parseBound(s string) (string, bool) {
	switch s {
	case "max", "min":
		return s, true
	}
	return "", false
}

// Lock implements subcommands.Command for the "lock" command.
type Lock struct {
	source string
	user   bool
}

// Name implements subcommands.Command.Name.
func (*Lock) Name() string { return "lock" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Lock) Synopsis() string { return "assert a min or max clock lock" }

// Usage implements subcommands.Command.Usage.
func (*Lock) Usage() string {
	return `lock [-source <name>] [-user] max|min <mhz> - assert a clock lock.

With -user the clock is snapped down to a supported clock the way the sysfs
lock files do, and a max lock at the upper clock (or min lock at the minimum
clock) releases the lock. Otherwise the clock must be exact.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Lock) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.source, "source", "sysfs", "lock source: thermal, sysfs, ipa, boost, pmqos, calibration, compute_boost.")
	f.BoolVar(&l.user, "user", false, "use user lock semantics.")
}

// Execute implements subcommands.Command.Execute.
func (l *Lock) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	bound, ok := parseBound(f.Arg(0))
	if !ok {
		f.Usage()
		return subcommands.ExitUsageError
	}
	clock, err := strconv.Atoi(f.Arg(1))
	if err != nil {
		return fail("lock: invalid clock %q", f.Arg(1))
	}

	c := clientFrom(args)
	var resp *model.ActionResponse
	if l.user {
		resp, err = c.SetUserLock(ctx, bound, clock)
	} else {
		resp, err = c.AssertLock(ctx, bound, l.source, clock)
	}
	if err != nil {
		return fail("lock: %v", err)
	}
	return printAction(resp)
}

// Unlock implements subcommands.Command for the "unlock" command.
type Unlock struct {
	source string
}

// Name implements subcommands.Command.Name.
func (*Unlock) Name() string { return "unlock" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Unlock) Synopsis() string { return "release a min or max clock lock" }

// Usage implements subcommands.Command.Usage.
func (*Unlock) Usage() string {
	return "unlock [-source <name>] max|min - release the source's lock.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (u *Unlock) SetFlags(f *flag.FlagSet) {
	f.StringVar(&u.source, "source", "sysfs", "lock source to release.")
}

// Execute implements subcommands.Command.Execute.
func (u *Unlock) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	bound, ok := parseBound(f.Arg(0))
	if !ok {
		f.Usage()
		return subcommands.ExitUsageError
	}
	resp, err := clientFrom(args).ReleaseLock(ctx, bound, u.source)
	if err != nil {
		return fail("unlock: %v", err)
	}
	return printAction(resp)
}

// Governor implements subcommands.Command for the "governor" command.
type Governor struct {
	polling   time.Duration
	highspeed string
	compute   string
}

// Name implements subcommands.Command.Name.
func (*Governor) Name() string { return "governor" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Governor) Synopsis() string { return "switch governor or change its tunables" }

// Usage implements subcommands.Command.Usage.
func (*Governor) Usage() string {
	return `governor [-polling <dur>] [-highspeed <clock>:<load>:<delay>] [-compute on|off] [<type>]
  - switch to governor <type> (default, interactive, static, booster, dynamic)
    and/or change the polling interval and interactive tunables.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (g *Governor) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&g.polling, "polling", 0, "new polling interval.")
	f.StringVar(&g.highspeed, "highspeed", "", "interactive highspeed tunables as clock:load:delay.")
	f.StringVar(&g.compute, "compute", "", "compute-boost override: on or off.")
}

// Execute implements subcommands.Command.Execute.
func (g *Governor) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() > 1 || (f.NArg() == 0 && g.polling == 0 && g.highspeed == "" && g.compute == "") {
		f.Usage()
		return subcommands.ExitUsageError
	}
	c := clientFrom(args)

	var last *model.ActionResponse
	if f.NArg() == 1 {
		resp, err := c.SetGovernor(ctx, f.Arg(0))
		if err != nil {
			return fail("governor: %v", err)
		}
		last = resp
	}
	if g.polling > 0 {
		resp, err := c.SetPolling(ctx, g.polling)
		if err != nil {
			return fail("governor: polling: %v", err)
		}
		last = resp
	}
	if g.highspeed != "" {
		h, err := parseHighspeed(g.highspeed)
		if err != nil {
			return fail("governor: %v", err)
		}
		resp, err := c.SetHighspeed(ctx, h)
		if err != nil {
			return fail("governor: highspeed: %v", err)
		}
		last = resp
	}
	if g.compute != "" {
		var on bool
		switch g.compute {
		case "on":
			on = true
		case "off":
		default:
			return fail("governor: -compute must be on or off, got %q", g.compute)
		}
		resp, err := c.SetComputeBoost(ctx, on)
		if err != nil {
			return fail("governor: compute boost: %v", err)
		}
		last = resp
	}
	return printAction(last)
}

func parseHighspeed(s string) (model.Highspeed, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return model.Highspeed{}, fmt.Errorf("highspeed %q: want clock:load:delay", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return model.Highspeed{}, fmt.Errorf("highspeed %q: %w", s, err)
		}
		v[i] = n
	}
	return model.Highspeed{Clock: v[0], Load: v[1], Delay: v[2]}, nil
}

// Boost implements subcommands.Command for the "boost" command.
type Boost struct {
	duration time.Duration
	cancel   bool
}

// Name implements subcommands.Command.Name.
func (*Boost) Name() string { return "boost" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Boost) Synopsis() string { return "hold a minimum clock for a while" }

// Usage implements subcommands.Command.Usage.
func (*Boost) Usage() string {
	return "boost [-duration <dur>] <mhz> | boost -cancel - start or cancel a timed min-clock boost.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boost) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&b.duration, "duration", time.Second, "boost duration.")
	f.BoolVar(&b.cancel, "cancel", false, "cancel the active boost.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boost) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	c := clientFrom(args)
	if b.cancel {
		if f.NArg() != 0 {
			f.Usage()
			return subcommands.ExitUsageError
		}
		resp, err := c.CancelBoost(ctx)
		if err != nil {
			return fail("boost: %v", err)
		}
		return printAction(resp)
	}

	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	clock, err := strconv.Atoi(f.Arg(0))
	if err != nil {
		return fail("boost: invalid clock %q", f.Arg(0))
	}
	resp, err := c.Boost(ctx, clock, b.duration)
	if err != nil {
		return fail("boost: %v", err)
	}
	return printAction(resp)
}

// Thermal implements subcommands.Command for the "thermal" command.
type Thermal struct{}

// Name implements subcommands.Command.Name.
func (*Thermal) Name() string { return "thermal" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Thermal) Synopsis() string { return "set the thermal throttle level" }

// Usage implements subcommands.Command.Usage.
func (*Thermal) Usage() string {
	return "thermal normal|throttle1|throttle2|throttle3|throttle4|tripping - set the thermal level.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Thermal) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Thermal) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	resp, err := clientFrom(args).SetThermal(ctx, f.Arg(0))
	if err != nil {
		return fail("thermal: %v", err)
	}
	return printAction(resp)
}

// Toggle implements subcommands.Command for the "enable" and "disable"
// commands.
type Toggle struct {
	enable bool
}

// Name implements subcommands.Command.Name.
func (t *Toggle) Name() string {
	if t.enable {
		return "enable"
	}
	return "disable"
}

// Synopsis implements subcommands.Command.Synopsis.
func (t *Toggle) Synopsis() string {
	if t.enable {
		return "start the DVFS loop"
	}
	return "stop the DVFS loop and park at the config clock"
}

// Usage implements subcommands.Command.Usage.
func (t *Toggle) Usage() string { return t.Name() + " - " + t.Synopsis() + ".\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*Toggle) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (t *Toggle) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	resp, err := clientFrom(args).SetEnabled(ctx, t.enable)
	if err != nil {
		return fail("%s: %v", t.Name(), err)
	}
	return printAction(resp)
}
