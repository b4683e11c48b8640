package models

// EvaluateRequest asks the judgment service to score a submitted result
// against the task description.
type EvaluateRequest struct {
	TaskID      uint64 `json:"task_id"`
	Description string `json:"description" binding:"required"`
	Result      string `json:"result" binding:"required"`
}

// Evaluation is the judgment verdict. A failed evaluation degrades to
// the zero verdict: not approved, confidence 0, auto-approve off.
type Evaluation struct {
	Approved    bool   `json:"approved"`
	Confidence  int    `json:"confidence"`
	Feedback    string `json:"feedback"`
	AutoApprove bool   `json:"auto_approve"`
}

// EvaluateResponse wraps a verdict with the outcome of any auto-approval
// attempt it triggered.
type EvaluateResponse struct {
	Success      bool        `json:"success"`
	Evaluation   *Evaluation `json:"evaluation"`
	AutoApproved bool        `json:"auto_approved"`
	Message      string      `json:"message,omitempty"`
}
