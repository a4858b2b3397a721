package workflows

import "contribledger/internal/activities"

type EvaluateContributionInput struct {
	SubmissionID string `json:"submission_id"`
	RefreshGraph bool   `json:"refresh_graph"`
	// MaxAttempts bounds evaluation retries; zero uses the default.
	MaxAttempts int32 `json:"max_attempts,omitempty"`
}

type EvaluationProgress struct {
	SubmissionID string                     `json:"submission_id"`
	CurrentStep  string                     `json:"current_step"`
	Status       string                     `json:"status"`
	Steps        map[string]string          `json:"steps"`
	FailReason   string                     `json:"fail_reason,omitempty"`
	Outcome      *activities.EvaluateOutput `json:"outcome,omitempty"`
}

const (
	BackfillAll           = "ALL"
	BackfillEvaluations   = "RESUME_EVALUATIONS"
	BackfillRegistrations = "RETRY_REGISTRATIONS"
)

type BackfillInput struct {
	Mode                  string `json:"mode"`
	MaxConcurrentChildren int    `json:"max_concurrent_children,omitempty"`
	RefreshGraph          bool   `json:"refresh_graph,omitempty"`
}

type BackfillReport struct {
	Mode               string            `json:"mode"`
	Resumed            int               `json:"resumed"`
	ResumeFailed       int               `json:"resume_failed"`
	Registered         int               `json:"registered"`
	RegistrationFailed int               `json:"registration_failed"`
	PerSubmission      map[string]string `json:"per_submission"`
}
