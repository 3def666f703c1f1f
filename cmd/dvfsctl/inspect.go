package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/config"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/dvfs"
	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

// Status implements subcommands.Command for the "status" command.
type Status struct {
	json bool
}

// Name implements subcommands.Command.Name.
func (*Status) Name() string { return "status" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Status) Synopsis() string { return "show the DVFS state of the device" }

// Usage implements subcommands.Command.Usage.
func (*Status) Usage() string {
	return "status [-json] - show clock, locks, governor and time in state.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Status) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.json, "json", false, "print the raw JSON status.")
}

// Execute implements subcommands.Command.Execute.
func (s *Status) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	st, err := clientFrom(args).Status(ctx)
	if err != nil {
		return fail("status: %v", err)
	}
	if s.json {
		return printJSON(st)
	}
	printStatus(os.Stdout, st)
	return subcommands.ExitSuccess
}

func printStatus(w io.Writer, st *model.Status) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "device:\t%s\n", st.Device)
	fmt.Fprintf(tw, "enabled:\t%t\n", st.Enabled)
	fmt.Fprintf(tw, "powered:\t%t\n", st.Powered)
	fmt.Fprintf(tw, "handler:\t%s\n", st.HandlerState)
	fmt.Fprintf(tw, "governor:\t%s\n", st.Governor)
	fmt.Fprintf(tw, "clock:\t%d MHz (step %d)\n", st.CurClock, st.Step)
	if st.PendingClock > 0 {
		fmt.Fprintf(tw, "pending:\t%d MHz\n", st.PendingClock)
	}
	fmt.Fprintf(tw, "utilization:\t%d%%\n", st.Utilization)
	fmt.Fprintf(tw, "window:\t%d..%d MHz\n", st.MinLock, st.MaxLock)
	fmt.Fprintf(tw, "polling:\t%dms\n", st.PollingIntervalMs)
	fmt.Fprintf(tw, "thermal:\t%s\n", st.ThermalLevel)
	fmt.Fprintf(tw, "boost:\tactive=%t compute=%t\n", st.BoostActive, st.ComputeBoost)
	fmt.Fprintf(tw, "transitions:\t%d\n", st.Transitions)
	if len(st.ActiveErrors) > 0 {
		fmt.Fprintf(tw, "errors:\t%s\n", strings.Join(st.ActiveErrors, ", "))
	}
	tw.Flush()

	if len(st.Locks) > 0 {
		fmt.Fprintln(w, "\nLOCKS")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SOURCE\tMIN\tMAX")
		for _, l := range st.Locks {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Source, clockOrDash(l.Min), clockOrDash(l.Max))
		}
		tw.Flush()
	}

	if len(st.TimeInState) > 0 {
		fmt.Fprintln(w, "\nTIME IN STATE")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CLOCK\tSECONDS")
		for _, t := range st.TimeInState {
			fmt.Fprintf(tw, "%d\t%.1f\n", t.Clock, t.Seconds)
		}
		tw.Flush()
	}
}

func clockOrDash(c int) string {
	if c == 0 {
		return "-"
	}
	return fmt.Sprint(c)
}

// Table implements subcommands.Command for the "table" command.
type Table struct {
	platform string
	json     bool
}

// Name implements subcommands.Command.Name.
func (*Table) Name() string { return "table" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Table) Synopsis() string { return "show the operating-point table" }

// Usage implements subcommands.Command.Usage.
func (*Table) Usage() string {
	return `table [-platform <file>] [-json] - show the daemon's table, or validate and
show the table of a platform file without contacting the daemon.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Table) SetFlags(f *flag.FlagSet) {
	f.StringVar(&t.platform, "platform", "", "read a platform file instead of querying the daemon; \"default\" for the built-in one.")
	f.BoolVar(&t.json, "json", false, "print the raw JSON table.")
}

// Execute implements subcommands.Command.Execute.
func (t *Table) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	var tbl model.Table
	if t.platform != "" {
		path := t.platform
		if path == "default" {
			path = ""
		}
		p, err := config.LoadPlatform(path)
		if err != nil {
			return fail("table: %v", err)
		}
		built, err := p.BuildTable()
		if err != nil {
			return fail("table: %v", err)
		}
		tbl = dvfs.TableModel(built)
	} else {
		remote, err := clientFrom(args).Table(ctx)
		if err != nil {
			return fail("table: %v", err)
		}
		tbl = *remote
	}

	if t.json {
		return printJSON(tbl)
	}
	printTable(os.Stdout, tbl)
	return subcommands.ExitSuccess
}

func printTable(w io.Writer, t model.Table) {
	fmt.Fprintf(w, "max %d MHz, min %d MHz, limit %d MHz\n\n", t.MaxClock, t.MinClock, t.MaxClockLimit)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "LEVEL\tCLOCK\tVOLTAGE\tMIN%\tMAX%\tSTAY\tMEM\t")
	for _, p := range t.Points {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%s\t\n",
			p.Level, p.Clock, p.Voltage, p.MinThreshold, p.MaxThreshold, p.DownStayCount, clockOrDash(p.MemFreq))
	}
	tw.Flush()
}

func printJSON(v any) subcommands.ExitStatus {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fail("encode: %v", err)
	}
	return subcommands.ExitSuccess
}
