package governor

type defaultPolicy struct{}

func (defaultPolicy) Kind() Kind { return KindDefault }

func (defaultPolicy) Decide(s *State, in Input) {
	stepUpDown(s, in, 1, 1)
}

// stepUpDown is the threshold walk shared by most policies. up and down are
// the number of levels to move on a threshold crossing.
func stepUpDown(s *State, in Input, up, down int) {
	row := in.Table.At(s.Step)
	switch {
	case s.Step > in.Fast && in.Utilization > row.MaxThreshold:
		s.Step = max(s.Step-up, in.Fast)
		s.DownRequirement = in.stay(s.Step)
	case s.Step < in.Slow && in.Utilization < row.MinThreshold:
		if s.countDown(row.DownStayCount) {
			s.Step = min(s.Step+down, in.Slow)
			s.DownRequirement = in.stay(s.Step)
		}
	default:
		s.DownRequirement = row.DownStayCount
	}
}
