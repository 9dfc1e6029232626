package event

// ActionSetData is the data for action.registered / action.unregistered.
type ActionSetData struct {
	Names []string `json:"names"`
}

// ApprovalRequestedData is the data for approval.requested.
type ApprovalRequestedData struct {
	RequestID string `json:"requestID"`
	CommandID string `json:"commandID"`
	Action    string `json:"action"`
	Prompt    string `json:"prompt"`
	TimeoutMs int64  `json:"timeoutMs"` // 0 means no countdown
}

// ApprovalResolvedData is the data for approval.resolved.
type ApprovalResolvedData struct {
	RequestID string `json:"requestID"`
	Action    string `json:"action"`
	Decision  string `json:"decision"` // "accepted" | "denied" | "timeout" | "cancelled"
	Reason    string `json:"reason,omitempty"`
}

// CommandSettledData is the data for command.settled.
type CommandSettledData struct {
	CommandID string `json:"commandID"`
	Action    string `json:"action"`
	Status    string `json:"status"` // "success" | "failure" | "retry"
	Message   string `json:"message,omitempty"`
}

// ForceData is the data for force.engaged / force.cleared.
type ForceData struct {
	Names  []string `json:"names"`
	Reason string   `json:"reason,omitempty"`
}

// FileData is the data for file.changed / file.opened.
type FileData struct {
	Path string `json:"path"`
}

// GitStateData is the data for git.state and merge events.
type GitStateData struct {
	Branch  string `json:"branch,omitempty"`
	Merging bool   `json:"merging"`
}

// ChatData is the data for chat.received.
type ChatData struct {
	Message string `json:"message"`
}

// TaskFinishedData is the data for task.finished.
type TaskFinishedData struct {
	Task    string `json:"task"`
	Success bool   `json:"success"`
}
