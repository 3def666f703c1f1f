package governor

// dynamicPolicy looks one row past a threshold crossing. When the load
// expressed at the current clock would still cross the neighbouring row's
// threshold it moves two levels instead of one.
type dynamicPolicy struct{}

func (dynamicPolicy) Kind() Kind { return KindDynamic }

func (dynamicPolicy) Decide(s *State, in Input) {
	row := in.Table.At(s.Step)
	load := in.Utilization * row.Clock

	up, down := 1, 1
	if s.Step-1 >= in.Fast {
		next := in.Table.At(s.Step - 1)
		if load > next.MaxThreshold*next.Clock {
			up = 2
		}
	}
	if s.Step+1 <= in.Slow {
		next := in.Table.At(s.Step + 1)
		if load < next.MinThreshold*next.Clock {
			down = 2
		}
	}
	stepUpDown(s, in, up, down)
}
