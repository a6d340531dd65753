package orchestrator

import "fmt"

// State is a stage of one utterance's orchestration.
type State int

const (
	Received State = iota
	FeedbackCheck
	Classify
	Retrieve
	Generate
	Persist
	Speak
	Done
	Aborted
)

var stateNames = [...]string{
	Received:      "received",
	FeedbackCheck: "feedback_check",
	Classify:      "classify",
	Retrieve:      "retrieve",
	Generate:      "generate",
	Persist:       "persist",
	Speak:         "speak",
	Done:          "done",
	Aborted:       "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown orchestration state %q", b)
}
