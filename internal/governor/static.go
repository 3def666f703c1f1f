package governor

// staticPolicy ignores utilization and sweeps between the fastest and the
// slowest allowed levels, one step every period samples. It exists for
// calibration and soak runs.
type staticPolicy struct {
	period int
}

func (staticPolicy) Kind() Kind { return KindStatic }

func (p staticPolicy) Decide(s *State, in Input) {
	s.staticCount++
	if s.staticCount >= p.period {
		s.staticCount = 0
		if s.sweepSlow {
			if s.Step < in.Slow {
				s.Step++
			}
			if s.Step >= in.Slow {
				s.sweepSlow = false
			}
		} else {
			if s.Step > in.Fast {
				s.Step--
			}
			if s.Step <= in.Fast {
				s.sweepSlow = true
			}
		}
	}
	s.DownRequirement = in.stay(s.Step)
}
