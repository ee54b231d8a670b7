package lifecycle

import "fmt"

type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateError    State = "ERROR"
)

var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateError},
	StateRunning:  {StateStopping},
	StateStopping: {StateStopped, StateError},
	StateError:    {StateStarting, StateStopping},
}

func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s State) transition(next State) (State, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("illegal component transition %s -> %s", s, next)
	}
	return next, nil
}
