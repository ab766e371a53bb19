package approval

import (
	"fmt"
	"strings"
)

// Kind is the type of a reviewer decision.
type Kind string

const (
	KindApprove Kind = "approve"
	KindReject  Kind = "reject"
	KindEdit    Kind = "edit"
)

// Decision is a reviewer's answer to a request. Field and Value are only
// used by edits.
type Decision struct {
	Kind      Kind
	Field     string
	Value     string
	DecidedBy string
}

// Approve builds an approve decision.
func Approve(by string) Decision { return Decision{Kind: KindApprove, DecidedBy: by} }

// Reject builds a reject decision.
func Reject(by string) Decision { return Decision{Kind: KindReject, DecidedBy: by} }

// Edit builds an edit decision.
func Edit(by, field, value string) Decision {
	return Decision{Kind: KindEdit, Field: field, Value: value, DecidedBy: by}
}

// ParseCommand parses a chat text command: "approve <id>", "reject <id>" or
// "edit <id> <field> <value...>". A leading slash is accepted.
func ParseCommand(text, by string) (string, Decision, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", Decision{}, fmt.Errorf("empty command")
	}
	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(verb, '@'); i >= 0 {
		verb = verb[:i]
	}
	switch verb {
	case "approve", "reject":
		if len(fields) != 2 {
			return "", Decision{}, fmt.Errorf("usage: %s <id>", verb)
		}
		return fields[1], Decision{Kind: Kind(verb), DecidedBy: by}, nil
	case "edit":
		if len(fields) < 4 {
			return "", Decision{}, fmt.Errorf("usage: edit <id> <title|description|tags|privacy> <value>")
		}
		value := strings.TrimSpace(text)
		for _, token := range fields[:3] {
			value = strings.TrimSpace(strings.TrimPrefix(value, token))
		}
		return fields[1], Edit(by, fields[2], value), nil
	}
	return "", Decision{}, fmt.Errorf("unknown command %q", fields[0])
}

// Status reports what OnDecision did.
type Status string

const (
	StatusApplied    Status = "applied"
	StatusUnknownJob Status = "unknown_job"
	StatusNotPending Status = "not_pending"
	StatusInvalid    Status = "invalid"
)

// Result describes the effect of a decision.
type Result struct {
	Status  Status
	JobID   string
	State   string
	Message string
}

// Applied reports whether the decision changed the job.
func (r Result) Applied() bool {
	return r.Status == StatusApplied
}
