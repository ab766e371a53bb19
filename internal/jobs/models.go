package jobs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// State is a position in the pipeline state machine.
type State string

const (
	StateDetected         State = "detected"
	StateFramesExtracted  State = "frames_extracted"
	StateTranscribed      State = "transcribed"
	StateMetadataDrafted  State = "metadata_drafted"
	StateThumbnailDrafted State = "thumbnail_drafted"
	StateAwaitingApproval State = "awaiting_approval"
	StateApproved         State = "approved"
	StateUploading        State = "uploading"
	StatePublished        State = "published"
	StateRejected         State = "rejected"
	StateFailed           State = "failed"
)

var allStates = []State{
	StateDetected,
	StateFramesExtracted,
	StateTranscribed,
	StateMetadataDrafted,
	StateThumbnailDrafted,
	StateAwaitingApproval,
	StateApproved,
	StateUploading,
	StatePublished,
	StateRejected,
	StateFailed,
}

var terminalStates = map[State]struct{}{
	StatePublished: {},
	StateRejected:  {},
	StateFailed:    {},
}

// allowedTransitions is the forward graph. Failure is reachable from every
// non-terminal state and handled separately; the only backward edge is the
// explicit resubmission failed -> detected.
var allowedTransitions = map[State][]State{
	StateDetected:         {StateFramesExtracted},
	StateFramesExtracted:  {StateTranscribed},
	StateTranscribed:      {StateMetadataDrafted},
	StateMetadataDrafted:  {StateThumbnailDrafted},
	StateThumbnailDrafted: {StateAwaitingApproval},
	StateAwaitingApproval: {StateApproved, StateRejected},
	StateApproved:         {StateUploading},
	StateUploading:        {StatePublished},
}

// AllStates returns every state in pipeline order.
func AllStates() []State {
	return append([]State(nil), allStates...)
}

// NonTerminalStates returns every state a job can still leave.
func NonTerminalStates() []State {
	out := make([]State, 0, len(allStates))
	for _, state := range allStates {
		if !state.IsTerminal() {
			out = append(out, state)
		}
	}
	return out
}

// ParseState converts a user-supplied string into a State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	for _, state := range allStates {
		if state == normalized {
			return state, true
		}
	}
	return "", false
}

// IsTerminal reports whether no automatic transition leaves the state.
func (s State) IsTerminal() bool {
	_, ok := terminalStates[s]
	return ok
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return !from.IsTerminal()
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func validateTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Decision is the outcome of the approval gate.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Approval records who decided and what.
type Approval struct {
	DecidedBy    string    `json:"decided_by"`
	Decision     Decision  `json:"decision"`
	EditedFields []string  `json:"edited_fields,omitempty"`
	DecidedAt    time.Time `json:"decided_at"`
}

// FinalResult records a successful publish.
type FinalResult struct {
	VideoURL    string    `json:"video_url"`
	VideoID     string    `json:"video_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Failure records why a job stopped.
type Failure struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Overrides are metadata values supplied at submission time. They win over
// generated metadata.
type Overrides struct {
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Privacy      string   `json:"privacy,omitempty"`
	SkipApproval bool     `json:"skip_approval,omitempty"`
}

// IsZero reports whether no override was supplied.
func (o Overrides) IsZero() bool {
	return o.Title == "" && o.Description == "" && len(o.Tags) == 0 && o.Privacy == "" && !o.SkipApproval
}

// StageOutput is the effective (latest revision) output of a stage.
type StageOutput struct {
	Stage      string          `json:"stage"`
	Revision   int             `json:"revision"`
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Job is one source video's pipeline record.
type Job struct {
	ID                  string
	SourcePath          string
	State               State
	Overrides           Overrides
	Outputs             map[string]StageOutput
	Attempts            map[string]int
	Approval            *Approval
	ApprovalRequestedAt *time.Time
	EditedFields        []string
	FinalResult         *FinalResult
	Failure             *Failure
	UploadStartedAt     *time.Time
	CancelRequested     bool
	ClaimedBy           string
	ClaimedAt           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasOutput reports whether stage already recorded an output.
func (j *Job) HasOutput(stage string) bool {
	if j == nil {
		return false
	}
	_, ok := j.Outputs[stage]
	return ok
}

// DecodeOutput unmarshals the effective output of stage into dest.
func (j *Job) DecodeOutput(stage string, dest any) error {
	if j == nil {
		return fmt.Errorf("decode %s output: nil job", stage)
	}
	out, ok := j.Outputs[stage]
	if !ok {
		return fmt.Errorf("decode %s output: %w", stage, ErrNotFound)
	}
	if err := json.Unmarshal(out.Payload, dest); err != nil {
		return fmt.Errorf("decode %s output: %w", stage, err)
	}
	return nil
}

// Attempt returns the durable attempt count for stage.
func (j *Job) Attempt(stage string) int {
	if j == nil {
		return 0
	}
	return j.Attempts[stage]
}

// OutputStages returns the stages with recorded outputs in pipeline order
// first, followed by any others alphabetically.
func (j *Job) OutputStages() []string {
	if j == nil {
		return nil
	}
	order := []string{"frames", "transcript", "metadata", "thumbnail"}
	seen := make(map[string]struct{}, len(j.Outputs))
	out := make([]string, 0, len(j.Outputs))
	for _, stage := range order {
		if _, ok := j.Outputs[stage]; ok {
			out = append(out, stage)
			seen[stage] = struct{}{}
		}
	}
	var rest []string
	for stage := range j.Outputs {
		if _, ok := seen[stage]; !ok {
			rest = append(rest, stage)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// CreateOptions carries optional submission parameters.
type CreateOptions struct {
	Overrides Overrides
}

// Stats counts jobs per state.
type Stats map[State]int
