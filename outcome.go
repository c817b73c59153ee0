package resourcesaga

// FailureStage tells which part of a saga run failed.
type FailureStage int

const (
	StageNone FailureStage = iota
	StageRemoteCreate
	StageLocalAudit
	StageCompensation
)

func (s FailureStage) String() string {
	switch s {
	case StageNone:
		return "NONE"
	case StageRemoteCreate:
		return "REMOTE_CREATE"
	case StageLocalAudit:
		return "LOCAL_AUDIT"
	case StageCompensation:
		return "COMPENSATION"
	default:
		return "UNKNOWN"
	}
}

// SagaOutcome is the immutable result of one saga run. A failed run is
// returned together with a typed error describing the failure.
type SagaOutcome struct {
	RunID        string
	Kind         Kind
	ResourceIDs  []string
	Success      bool
	FailureStage FailureStage
}

func resourceIDs(handles []Handle) []string {
	ids := make([]string, len(handles))
	for i, h := range handles {
		ids[i] = h.ResourceID
	}
	return ids
}
