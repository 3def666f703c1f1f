package trace

import (
	"github.com/kubeadapt/kubeadapt-dvfs/internal/governor"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/lock"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/table"
	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

// ReplayResult summarizes an offline replay of a trace.
type ReplayResult struct {
	Governor string `json:"governor"`
	Ticks    int    `json:"ticks"`
	// Skipped counts ticks whose sample failed; they carry no decision.
	Skipped    int   `json:"skipped"`
	Mismatches int   `json:"mismatches"`
	Steps      []int `json:"steps"`
}

// Replay feeds the recorded utilization through a fresh governor of kind k
// and compares each decision with the recorded one. The governor starts at the
// first recorded step with the counter armed from that row, as Enable leaves
// it; after every tick the step follows the recorded clock, as the device
// re-derives it from hardware.
func Replay(recs []model.TickRecord, t *table.Table, k governor.Kind, p governor.Params) (ReplayResult, error) {
	gov, err := governor.New(k, p)
	if err != nil {
		return ReplayResult{}, err
	}
	res := ReplayResult{Governor: k.String()}

	var (
		s       governor.State
		started bool
		cur     int
	)
	for _, rec := range recs {
		if rec.TargetClock == 0 {
			res.Skipped++
			continue
		}
		if !started {
			level := table.ClampLevel(rec.FromStep, 0, t.Len()-1)
			s.Reset(level, t.At(level).DownStayCount)
			cur = t.At(level).Clock
			started = true
		}

		fast, slow := lock.Window{MinLock: rec.MinLock, MaxLock: rec.MaxLock}.Levels(t)
		out := gov.Decide(&s, governor.Input{
			Table:        t,
			Fast:         fast,
			Slow:         slow,
			CurClock:     cur,
			Utilization:  rec.Utilization,
			ComputeBound: rec.ComputeBound,
		})
		res.Ticks++
		res.Steps = append(res.Steps, out.To)
		if out.To != rec.ToStep {
			res.Mismatches++
		}

		if rec.Clock > 0 {
			cur = rec.Clock
			if l, err := t.LevelFloor(rec.Clock); err == nil {
				s.Step = l
			}
		}
	}
	return res, nil
}
