// File: internal/agent/routes.go
package agent

// Routing functions are pure: they read the session and pick the next edge.

// RouteAfterCapture ends the run once a capture stage has marked it done.
func RouteAfterCapture(s *Session) Route {
	if s.Done {
		return RouteEnd
	}
	return RouteAnalyze
}

// RouteAfterAnalyze always proceeds to the worker unless the stuck check
// finished the session.
func RouteAfterAnalyze(s *Session) Route {
	if s.Done {
		return RouteEnd
	}
	return RouteWorker
}

// RouteAfterWorker dispatches the pending tool call while the step budget
// allows it. A failed worker request goes back to capture.
func RouteAfterWorker(s *Session, maxSteps int) Route {
	if s.Step >= maxSteps {
		return RouteFinalize
	}
	if s.workerErr != nil {
		return RouteRetry
	}
	if s.LastResponse != nil && len(s.LastResponse.ToolCalls) > 0 {
		return RouteTool
	}
	return RouteFinalize
}

// RouteAfterPlanner delegates until the planner finishes or runs out of steps.
func RouteAfterPlanner(s *Session, maxPlannerSteps int) Route {
	if s.Done || s.PlannerStep >= maxPlannerSteps {
		return RouteEnd
	}
	last, ok := s.LastDecision()
	if !ok || last.Action != ActionDelegate {
		return RouteEnd
	}
	return RouteDelegate
}

// RouteAfterHierarchicalWorker returns control to the planner once the
// worker completes, fails or exhausts its steps for the current subtask.
func RouteAfterHierarchicalWorker(s *Session, maxWorkerSteps int) Route {
	if s.WorkerStep >= maxWorkerSteps || s.workerErr != nil {
		return RoutePlanner
	}
	if last := s.lastWorkerResponse(); last != nil && len(last.ToolCalls) > 0 {
		return RouteTool
	}
	return RoutePlanner
}

// isStuck reports whether the duplicate counter reached threshold.
func isStuck(s *Session, threshold int) bool {
	return s.ConsecutiveDuplicates >= threshold
}
