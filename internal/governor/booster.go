package governor

// boosterPercent is the fraction of the current row's clock the clock-weighted
// load must rise by in one sample to trigger a double step.
const boosterPercent = 50

// boosterPolicy tracks clock*utilization between samples. A sudden rise of
// more than half the current clock jumps two levels at once; anything else
// follows the default walk.
type boosterPolicy struct{}

func (boosterPolicy) Kind() Kind { return KindBooster }

func (boosterPolicy) Decide(s *State, in Input) {
	cur := in.CurClock * in.Utilization
	threshold := in.Table.At(s.Step).Clock * boosterPercent
	prev := s.weight
	s.weight = cur

	if s.Step >= in.Fast+2 && cur-prev > threshold {
		s.Step -= 2
		s.DownRequirement = in.stay(s.Step)
		return
	}
	stepUpDown(s, in, 1, 1)
}
