package activities

type EvaluateInput struct {
	SubmissionID string `json:"submission_id"`
}

// EvaluateOutput is a flattened view of evaluation.Result so workflow
// history stays small and free of decimal types.
type EvaluateOutput struct {
	SubmissionID string   `json:"submission_id"`
	Status       string   `json:"status"`
	Qualified    bool     `json:"qualified"`
	Reason       string   `json:"reason,omitempty"`
	DuplicateOf  []string `json:"duplicate_of,omitempty"`
	Composite    string   `json:"composite,omitempty"`
	Funded       []string `json:"funded,omitempty"`
	Unfunded     []string `json:"unfunded,omitempty"`
	Certificate  string   `json:"certificate,omitempty"`
	Resumed      bool     `json:"resumed,omitempty"`
}

type RegisterInput struct {
	SubmissionID string `json:"submission_id"`
}

type RegisterOutput struct {
	Certificate string `json:"certificate"`
}

type RefreshGraphInput struct {
	Path string `json:"path,omitempty"`
}

type RefreshGraphOutput struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

type ListPendingOutput struct {
	Registrations []string `json:"registrations"`
	Evaluations   []string `json:"evaluations"`
}
