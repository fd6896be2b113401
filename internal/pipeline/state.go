package pipeline

// State is the stage a run is in.
type State int

const (
	NotStarted State = iota
	Researching
	Synthesizing
	Persisting
	Completed
	Failed
)

var stateNames = [...]string{
	NotStarted:   "not_started",
	Researching:  "researching",
	Synthesizing: "synthesizing",
	Persisting:   "persisting",
	Completed:    "completed",
	Failed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
