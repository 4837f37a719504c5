// File: internal/agent/fsm.go
package agent

import "fmt"

// StateID identifies a stage of the orchestration graph.
type StateID int

const (
	StateCapture StateID = iota
	StateAnalyze
	StateWorker
	StateTool
	StateFinalize
	StatePlannerCapture
	StatePlanner
	StateWorkerCapture
	StateOutput
)

var stateNames = map[StateID]string{
	StateCapture:        "capture",
	StateAnalyze:        "analyze",
	StateWorker:         "worker",
	StateTool:           "tool",
	StateFinalize:       "finalize",
	StatePlannerCapture: "planner_capture",
	StatePlanner:        "planner",
	StateWorkerCapture:  "worker_capture",
	StateOutput:         "output",
}

func (s StateID) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Route is the outcome of a routing function.
type Route string

const (
	RouteAnalyze  Route = "analyze"
	RouteWorker   Route = "worker"
	RouteTool     Route = "tool"
	RouteFinalize Route = "finalize"
	RouteRetry    Route = "retry"
	RouteDelegate Route = "delegate"
	RoutePlanner  Route = "planner"
	RouteNext     Route = "next"
	RouteEnd      Route = "end"
)

// Machine is a finite state machine described by an explicit transition
// table. Reaching the terminal state ends the run after its stage executes.
type Machine struct {
	Name     string
	Initial  StateID
	Terminal StateID
	table    map[StateID]map[Route]StateID
}

// Next returns the state that follows from on route r.
func (m *Machine) Next(from StateID, r Route) (StateID, error) {
	routes, ok := m.table[from]
	if !ok {
		return 0, fmt.Errorf("%s machine: no transitions from %s", m.Name, from)
	}
	to, ok := routes[r]
	if !ok {
		return 0, fmt.Errorf("%s machine: no transition from %s on %q", m.Name, from, r)
	}
	return to, nil
}

// States lists every state that appears in the table, terminal included.
func (m *Machine) States() []StateID {
	seen := map[StateID]bool{m.Initial: true, m.Terminal: true}
	for from, routes := range m.table {
		seen[from] = true
		for _, to := range routes {
			seen[to] = true
		}
	}
	out := make([]StateID, 0, len(seen))
	for id := StateCapture; id <= StateOutput; id++ {
		if seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// FlatMachine: capture -> analyze -> worker -> (tool -> capture | finalize).
// A failed worker request retries from capture; every cycle still passes
// through the budget check.
var FlatMachine = &Machine{
	Name:     "flat",
	Initial:  StateCapture,
	Terminal: StateFinalize,
	table: map[StateID]map[Route]StateID{
		StateCapture: {RouteAnalyze: StateAnalyze, RouteEnd: StateFinalize},
		StateAnalyze: {RouteWorker: StateWorker, RouteEnd: StateFinalize},
		StateWorker:  {RouteTool: StateTool, RouteFinalize: StateFinalize, RouteRetry: StateCapture},
		StateTool:    {RouteNext: StateCapture},
	},
}

// HierarchicalMachine: planner_capture -> planner -> (delegate: worker_capture
// -> worker -> tool -> worker_capture ... -> planner) | (end: output).
var HierarchicalMachine = &Machine{
	Name:     "hierarchical",
	Initial:  StatePlannerCapture,
	Terminal: StateOutput,
	table: map[StateID]map[Route]StateID{
		StatePlannerCapture: {RouteAnalyze: StatePlanner, RouteEnd: StateOutput},
		StatePlanner:        {RouteDelegate: StateWorkerCapture, RouteEnd: StateOutput},
		StateWorkerCapture:  {RouteAnalyze: StateWorker, RouteEnd: StateOutput},
		StateWorker:         {RouteTool: StateTool, RoutePlanner: StatePlanner},
		StateTool:           {RouteNext: StateWorkerCapture},
	},
}
