package domain

// WorkflowState is a step of a staged workflow run.
type WorkflowState int

const (
	StateIdle WorkflowState = iota
	StateAuthenticated
	StateUploaded
	StateSignedURLsMinted
	StateRemoteCallInFlight
	StateOutputsDownloaded
	StateArtifactsDeleted
	StateDone
	StateFailed
)

var workflowStateLabels = map[WorkflowState]string{
	StateIdle:               "idle",
	StateAuthenticated:      "authenticated",
	StateUploaded:           "uploaded",
	StateSignedURLsMinted:   "signed_urls_minted",
	StateRemoteCallInFlight: "remote_call_in_flight",
	StateOutputsDownloaded:  "outputs_downloaded",
	StateArtifactsDeleted:   "artifacts_deleted",
	StateDone:               "done",
	StateFailed:             "failed",
}

func (s WorkflowState) String() string {
	if label, ok := workflowStateLabels[s]; ok {
		return label
	}

	return "unknown"
}

// Terminal reports whether no further transition can follow s.
func (s WorkflowState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether next may follow s. Failed is reachable from
// every non-terminal state.
func (s WorkflowState) CanTransition(next WorkflowState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}

	return next == s+1
}
