package tap

import (
	"errors"
	"fmt"
	"strings"
)

// State represents one of the 16 defined IEEE 1149.1 TAP controller states.
type State uint8

const (
	StateTestLogicReset State = iota
	StateRunTestIdle
	StateSelectDRScan
	StateCaptureDR
	StateShiftDR
	StateExit1DR
	StatePauseDR
	StateExit2DR
	StateUpdateDR
	StateSelectIRScan
	StateCaptureIR
	StateShiftIR
	StateExit1IR
	StatePauseIR
	StateExit2IR
	StateUpdateIR

	numStates
)

var stateNames = [numStates]string{
	StateTestLogicReset: "TestLogicReset",
	StateRunTestIdle:    "RunTestIdle",
	StateSelectDRScan:   "SelectDRScan",
	StateCaptureDR:      "CaptureDR",
	StateShiftDR:        "ShiftDR",
	StateExit1DR:        "Exit1DR",
	StatePauseDR:        "PauseDR",
	StateExit2DR:        "Exit2DR",
	StateUpdateDR:       "UpdateDR",
	StateSelectIRScan:   "SelectIRScan",
	StateCaptureIR:      "CaptureIR",
	StateShiftIR:        "ShiftIR",
	StateExit1IR:        "Exit1IR",
	StatePauseIR:        "PauseIR",
	StateExit2IR:        "Exit2IR",
	StateUpdateIR:       "UpdateIR",
}

func (s State) String() string {
	if s.Valid() {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Valid reports whether s is one of the 16 controller states.
func (s State) Valid() bool {
	return s < numStates
}

// ParseState resolves a state name such as "ShiftDR", "shift-dr" or
// "Run-Test/Idle". "idle" and "reset" are accepted as short forms.
func ParseState(name string) (State, error) {
	key := normalizeState(name)
	switch key {
	case "idle":
		return StateRunTestIdle, nil
	case "reset":
		return StateTestLogicReset, nil
	}
	for s, n := range stateNames {
		if normalizeState(n) == key {
			return State(s), nil
		}
	}
	return 0, fmt.Errorf("tap: unknown state %q", name)
}

func normalizeState(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ErrUnknownState is returned by Require while the tracked state has not
// been established by a reset.
var ErrUnknownState = errors.New("tap: state unknown")

// ResetClocks is the number of TMS=1 clocks that reach Test-Logic-Reset from
// any state.
const ResetClocks = 5

// Sequence captures the TMS drive pattern and the sequence of states that result
// from applying that pattern to the TAP controller.
type Sequence struct {
	TMS    []bool
	States []State
}

type edge struct {
	onZero State
	onOne  State
}

var transitions = [numStates]edge{
	StateTestLogicReset: {onZero: StateRunTestIdle, onOne: StateTestLogicReset},
	StateRunTestIdle:    {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
	StateSelectDRScan:   {onZero: StateCaptureDR, onOne: StateSelectIRScan},
	StateCaptureDR:      {onZero: StateShiftDR, onOne: StateExit1DR},
	StateShiftDR:        {onZero: StateShiftDR, onOne: StateExit1DR},
	StateExit1DR:        {onZero: StatePauseDR, onOne: StateUpdateDR},
	StatePauseDR:        {onZero: StatePauseDR, onOne: StateExit2DR},
	StateExit2DR:        {onZero: StateShiftDR, onOne: StateUpdateDR},
	StateUpdateDR:       {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
	StateSelectIRScan:   {onZero: StateCaptureIR, onOne: StateTestLogicReset},
	StateCaptureIR:      {onZero: StateShiftIR, onOne: StateExit1IR},
	StateShiftIR:        {onZero: StateShiftIR, onOne: StateExit1IR},
	StateExit1IR:        {onZero: StatePauseIR, onOne: StateUpdateIR},
	StatePauseIR:        {onZero: StatePauseIR, onOne: StateExit2IR},
	StateExit2IR:        {onZero: StateShiftIR, onOne: StateUpdateIR},
	StateUpdateIR:       {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
}

// NextState returns the next TAP state after clocking TCK with the provided TMS
// value. It panics if an invalid state is supplied, which should never happen
// when interacting through the exported API.
func NextState(current State, tms bool) State {
	if !current.Valid() {
		panic(fmt.Sprintf("tap: unhandled state %d", current))
	}
	if tms {
		return transitions[current].onOne
	}
	return transitions[current].onZero
}

// Walk applies a TMS sequence starting at from and returns every state
// visited, including from.
func Walk(from State, tms []bool) Sequence {
	seq := Sequence{
		TMS:    append([]bool(nil), tms...),
		States: make([]State, 0, len(tms)+1),
	}
	seq.States = append(seq.States, from)
	cur := from
	for _, bit := range tms {
		cur = NextState(cur, bit)
		seq.States = append(seq.States, cur)
	}
	return seq
}

// StateMachine tracks the TAP controller state locally. It does not perform
// any I/O. A machine created with NewUnknownStateMachine does not know the
// state until five consecutive TMS=1 clocks have been applied.
type StateMachine struct {
	state    State
	known    bool
	highRun  int
	clockCnt uint64
}

// NewStateMachine creates a TAP state machine initialized to Test-Logic-Reset.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateTestLogicReset, known: true}
}

// NewUnknownStateMachine creates a machine for a TAP whose state has not been
// observed yet, which is the situation right after a transport is opened.
func NewUnknownStateMachine() *StateMachine {
	return &StateMachine{state: StateTestLogicReset}
}

// State reports the current TAP state tracked by the machine. It is only
// meaningful when Known reports true.
func (m *StateMachine) State() State {
	return m.state
}

// Known reports whether the tracked state reflects the hardware.
func (m *StateMachine) Known() bool {
	return m.known
}

// Clocks returns the number of TCK cycles applied so far.
func (m *StateMachine) Clocks() uint64 {
	return m.clockCnt
}

// Clock advances the machine one TCK cycle with the provided TMS bit and
// returns the new state.
func (m *StateMachine) Clock(tms bool) State {
	m.clockCnt++
	if tms {
		m.highRun++
	} else {
		m.highRun = 0
	}
	if !m.known {
		if m.highRun >= ResetClocks {
			m.known = true
			m.state = StateTestLogicReset
		}
		return m.state
	}
	m.state = NextState(m.state, tms)
	return m.state
}

// ClockAll applies a TMS sequence and returns the final state.
func (m *StateMachine) ClockAll(tms []bool) State {
	for _, bit := range tms {
		m.Clock(bit)
	}
	return m.state
}

// Reset applies the IEEE recommendation of clocking five consecutive TMS=1
// cycles. It returns the sequence for convenience so it can be forwarded to a
// hardware adapter.
func (m *StateMachine) Reset() Sequence {
	seq := Sequence{
		TMS:    make([]bool, ResetClocks),
		States: make([]State, ResetClocks+1),
	}
	seq.States[0] = m.state
	for i := 0; i < ResetClocks; i++ {
		seq.TMS[i] = true
		seq.States[i+1] = m.Clock(true)
	}
	return seq
}

// Require returns nil when the tracked state is one of allowed. Otherwise it
// returns an error naming the allowed states and the actual one.
func (m *StateMachine) Require(allowed ...State) error {
	if !m.known {
		return fmt.Errorf("%w: need %s", ErrUnknownState, joinStates(allowed))
	}
	for _, s := range allowed {
		if m.state == s {
			return nil
		}
	}
	return fmt.Errorf("tap: in %s, need %s", m.state, joinStates(allowed))
}

func joinStates(states []State) string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	return strings.Join(names, " or ")
}

// GoTo computes the minimal sequence of TMS values needed to reach the target
// state from the current state. It updates the machine as a side effect and
// returns the generated sequence.
func (m *StateMachine) GoTo(target State) (Sequence, error) {
	if !m.known {
		return Sequence{}, ErrUnknownState
	}
	path, err := Path(m.state, target)
	if err != nil {
		return Sequence{}, err
	}
	m.ClockAll(path.TMS)
	return path, nil
}

// Path uses BFS across the TAP state diagram to find the shortest set of
// transitions between two states.
func Path(from, to State) (Sequence, error) {
	if !from.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid start state %d", from)
	}
	if !to.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid target state %d", to)
	}
	if from == to {
		return Sequence{States: []State{from}}, nil
	}

	type node struct {
		state State
		tms   []bool
	}

	queue := []node{{state: from}}
	var visited [numStates]bool
	visited[from] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, bit := range [2]bool{false, true} {
			next := NextState(current.state, bit)
			if visited[next] {
				continue
			}
			tms := append(append([]bool{}, current.tms...), bit)
			if next == to {
				return Walk(from, tms), nil
			}
			visited[next] = true
			queue = append(queue, node{state: next, tms: tms})
		}
	}

	return Sequence{}, fmt.Errorf("tap: no path from %s to %s", from, to)
}
