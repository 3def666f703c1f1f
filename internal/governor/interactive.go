package governor

// interactivePolicy is the default walk plus a highspeed shortcut: under
// heavy load at a step slower than the highspeed clock it waits
// Highspeed.Delay qualifying samples and then jumps straight to that clock.
type interactivePolicy struct {
	hs *Highspeed
}

func (*interactivePolicy) Kind() Kind { return KindInteractive }

func (p *interactivePolicy) Decide(s *State, in Input) {
	row := in.Table.At(s.Step)
	if s.Step <= in.Fast || in.Utilization <= row.MaxThreshold {
		s.delayCount = 0
		stepUpDown(s, in, 1, 1)
		return
	}

	hsLevel, err := in.Table.LevelFloor(p.hs.Clock)
	if err != nil || s.Step <= hsLevel || in.Utilization <= p.hs.Load {
		s.delayCount = 0
		s.Step--
		s.DownRequirement = in.stay(s.Step)
		return
	}

	s.delayCount++
	if s.delayCount <= p.hs.Delay {
		s.DownRequirement = row.DownStayCount
		return
	}
	s.delayCount = 0
	s.Step = max(hsLevel, in.Fast)
	s.DownRequirement = in.stay(s.Step)
}
