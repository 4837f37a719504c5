// File: internal/agent/session.go
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/config"
	"github.com/xkilldash9x/balatro-agent/internal/executor"
)

// Reason classifies how a session ended.
type Reason string

const (
	ReasonCompleted     Reason = "completed"
	ReasonStuck         Reason = "stuck"
	ReasonImpossible    Reason = "impossible"
	ReasonMaxIterations Reason = "max_iterations"
	ReasonNoAction      Reason = "no_action"
	ReasonError         Reason = "error"
)

// Result is the terminal outcome handed back to the caller of a session.
type Result struct {
	Success         bool   `json:"success"`
	Reason          Reason `json:"reason"`
	Iterations      int    `json:"iterations"`
	Description     string `json:"description"`
	WorkerReasoning string `json:"worker_reasoning,omitempty"`
}

// Observation is one captured screen. Image is only kept on the most recent
// observation of a session; older ones are referenced through their
// description.
type Observation struct {
	Image      []byte                    `json:"-"`
	Pointer    *executor.PointerPosition `json:"pointer,omitempty"`
	CapturedAt time.Time                 `json:"captured_at"`
	Failed     bool                      `json:"failed"`
	Note       string                    `json:"note"`
}

// Message renders the observation as the user turn shown to the model.
func (o Observation) Message() schemas.Message {
	msg := schemas.Message{Role: schemas.RoleUser, Parts: []schemas.ContentPart{{Text: o.Note}}}
	if len(o.Image) > 0 {
		msg.Parts = append(msg.Parts, schemas.ContentPart{Image: &schemas.ImagePart{MIMEType: "image/png", Data: o.Image}})
	}
	return msg
}

// DecisionAction is the planner's verdict for one cycle.
type DecisionAction string

const (
	ActionDelegate DecisionAction = "delegate"
	ActionFinish   DecisionAction = "finish"
)

// PlannerDecision is a single planner output. Exactly one of Subtask and
// Summary is populated, matching Action.
type PlannerDecision struct {
	Action    DecisionAction `json:"action"`
	Reasoning string         `json:"reasoning,omitempty"`
	Subtask   string         `json:"subtask,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	// Malformed marks a decision synthesized because the model output was
	// unusable.
	Malformed bool `json:"malformed,omitempty"`
}

// Session is the state owned by exactly one orchestration run. It is mutated
// sequentially by the stages and never shared between runs.
type Session struct {
	ID        string         `json:"id"`
	Task      string         `json:"task"`
	Variant   config.Variant `json:"variant"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`

	Observations          []Observation      `json:"observations"`
	Descriptions          []string           `json:"descriptions"`
	GameStates            []schemas.GameState `json:"game_states,omitempty"`
	History               []schemas.Message  `json:"-"`
	Step                  int                `json:"step"`
	WorkerStep            int                `json:"worker_step"`
	PlannerStep           int                `json:"planner_step"`
	ConsecutiveDuplicates int                `json:"consecutive_duplicates"`
	Subtasks              []PlannerDecision  `json:"subtasks,omitempty"`
	ToolCalls             int                `json:"tool_calls"`

	// LastResponse is the most recent worker response. WorkerResponses holds
	// every worker response since the last planner decision.
	LastResponse    *schemas.GenerationResponse  `json:"-"`
	WorkerResponses []*schemas.GenerationResponse `json:"-"`
	workerErr       error

	Done   bool    `json:"done"`
	Result *Result `json:"result,omitempty"`
}

// NewSession creates the state for a new run of task.
func NewSession(task string, variant config.Variant) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Task:      task,
		Variant:   variant,
		StartedAt: time.Now(),
	}
}

// finish marks the session done with r. The first result wins; a done
// session is never rewritten.
func (s *Session) finish(r Result) {
	if s.Done {
		return
	}
	s.Done = true
	s.EndedAt = time.Now()
	s.Result = &r
}

// addObservation appends obs and releases the image held by the previous one.
func (s *Session) addObservation(obs Observation) {
	if n := len(s.Observations); n > 0 {
		s.Observations[n-1].Image = nil
	}
	s.Observations = append(s.Observations, obs)
}

// CurrentObservation returns the latest observation, if any.
func (s *Session) CurrentObservation() (Observation, bool) {
	if len(s.Observations) == 0 {
		return Observation{}, false
	}
	return s.Observations[len(s.Observations)-1], true
}

// LastDescription returns the most recent screen description.
func (s *Session) LastDescription() string {
	if len(s.Descriptions) == 0 {
		return ""
	}
	return s.Descriptions[len(s.Descriptions)-1]
}

// LastDecision returns the most recent planner decision.
func (s *Session) LastDecision() (PlannerDecision, bool) {
	if len(s.Subtasks) == 0 {
		return PlannerDecision{}, false
	}
	return s.Subtasks[len(s.Subtasks)-1], true
}

func (s *Session) lastGameState() (schemas.GameState, bool) {
	if len(s.GameStates) == 0 {
		return schemas.GameState{}, false
	}
	return s.GameStates[len(s.GameStates)-1], true
}

func (s *Session) lastWorkerResponse() *schemas.GenerationResponse {
	if len(s.WorkerResponses) == 0 {
		return nil
	}
	return s.WorkerResponses[len(s.WorkerResponses)-1]
}

// summarize builds the human readable result description.
func (s *Session) summarize(reason Reason) string {
	final := s.LastDescription()
	if final == "" {
		final = "No screen analyzed"
	}
	return fmt.Sprintf("Task '%s': %s after %d iterations. Final: %s", s.Task, strings.ReplaceAll(string(reason), "_", " "), s.Step, final)
}

// Output is the user-facing text of a hierarchical run: the planner's final
// summary, or a report of what was attempted.
func (s *Session) Output() string {
	if len(s.Subtasks) == 0 {
		return "There was an error and no subtasks were executed."
	}
	last := s.Subtasks[len(s.Subtasks)-1]
	if last.Action == ActionFinish && last.Summary != "" {
		return last.Summary
	}

	var sb strings.Builder
	sb.WriteString("The task could not be finished yet. But these were the subtasks tried:\n")
	for _, d := range s.Subtasks {
		if d.Subtask == "" {
			continue
		}
		fmt.Fprintf(&sb, "- %s\n", d.Subtask)
	}
	return strings.TrimRight(sb.String(), "\n")
}
