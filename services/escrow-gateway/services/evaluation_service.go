package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/models"
)

// ResultAssessor judges a submitted result against a task description.
type ResultAssessor interface {
	Assess(ctx context.Context, description, result string) (*models.Evaluation, error)
}

// RemoteAssessor calls the AI judgment service over HTTP.
type RemoteAssessor struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRemoteAssessor creates an assessor for the given judgment service.
func NewRemoteAssessor(baseURL, apiKey string) *RemoteAssessor {
	return &RemoteAssessor{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type assessRequest struct {
	RequestID   string `json:"request_id"`
	Description string `json:"description"`
	Result      string `json:"result"`
}

// Assess posts the description/result pair for judgment.
func (ra *RemoteAssessor) Assess(ctx context.Context, description, result string) (*models.Evaluation, error) {
	payload, err := json.Marshal(&assessRequest{
		RequestID:   uuid.New().String(),
		Description: description,
		Result:      result,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evaluation request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ra.baseURL+"/evaluate", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ra.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+ra.apiKey)
	}

	resp, err := ra.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evaluation request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evaluation service returned status: %d", resp.StatusCode)
	}

	var evaluation models.Evaluation
	if err := json.NewDecoder(resp.Body).Decode(&evaluation); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation response: %v", err)
	}

	if evaluation.Confidence < 0 {
		evaluation.Confidence = 0
	}
	if evaluation.Confidence > 100 {
		evaluation.Confidence = 100
	}

	return &evaluation, nil
}

// EvaluationService wraps an assessor with the degradation contract:
// any assessor failure becomes the zero verdict (not approved,
// confidence 0, auto-approve off) so a failed evaluation can never
// release payment, and the submission flow never crashes on it.
type EvaluationService struct {
	assessor ResultAssessor
}

// NewEvaluationService creates an evaluation service. A nil assessor
// means no judgment service is configured; every evaluation degrades to
// manual review.
func NewEvaluationService(assessor ResultAssessor) *EvaluationService {
	return &EvaluationService{assessor: assessor}
}

// Evaluate returns the assessor's verdict, degraded to the safe default
// on any failure. It never returns an error.
func (es *EvaluationService) Evaluate(ctx context.Context, description, result string) *models.Evaluation {
	if es.assessor == nil {
		return &models.Evaluation{
			Feedback: "No evaluation service configured; manual review required",
		}
	}

	evaluation, err := es.assessor.Assess(ctx, description, result)
	if err != nil {
		log.Printf("Evaluation failed, degrading to manual review: %v", err)
		return &models.Evaluation{
			Approved:    false,
			Confidence:  0,
			Feedback:    err.Error(),
			AutoApprove: false,
		}
	}

	return evaluation
}
