package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/models"
)

func TestRemoteAssessorParsesVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/evaluate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req assessRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.RequestID)
		assert.Equal(t, "write a haiku", req.Description)

		json.NewEncoder(w).Encode(&models.Evaluation{
			Approved:    true,
			Confidence:  92,
			Feedback:    "meets the brief",
			AutoApprove: true,
		})
	}))
	defer server.Close()

	assessor := NewRemoteAssessor(server.URL, "secret")
	evaluation, err := assessor.Assess(context.Background(), "write a haiku", "five seven five")
	require.NoError(t, err)

	assert.True(t, evaluation.Approved)
	assert.Equal(t, 92, evaluation.Confidence)
	assert.True(t, evaluation.AutoApprove)
}

func TestRemoteAssessorClampsConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&models.Evaluation{Approved: true, Confidence: 150})
	}))
	defer server.Close()

	assessor := NewRemoteAssessor(server.URL, "")
	evaluation, err := assessor.Assess(context.Background(), "d", "r")
	require.NoError(t, err)
	assert.Equal(t, 100, evaluation.Confidence)
}

func TestRemoteAssessorRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	assessor := NewRemoteAssessor(server.URL, "")
	_, err := assessor.Assess(context.Background(), "d", "r")
	assert.Error(t, err)
}

type failingAssessor struct{}

func (failingAssessor) Assess(ctx context.Context, description, result string) (*models.Evaluation, error) {
	return nil, errors.New("judgment service timed out")
}

func TestEvaluateDegradesOnFailure(t *testing.T) {
	svc := NewEvaluationService(failingAssessor{})

	evaluation := svc.Evaluate(context.Background(), "write a haiku", "five seven five")

	assert.False(t, evaluation.Approved)
	assert.Equal(t, 0, evaluation.Confidence)
	assert.Equal(t, "judgment service timed out", evaluation.Feedback)
	assert.False(t, evaluation.AutoApprove)
}

func TestEvaluateDegradesOnUnreachableService(t *testing.T) {
	// Closed server: the dial fails.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	svc := NewEvaluationService(NewRemoteAssessor(server.URL, ""))
	evaluation := svc.Evaluate(context.Background(), "d", "r")

	assert.False(t, evaluation.Approved)
	assert.Equal(t, 0, evaluation.Confidence)
	assert.NotEmpty(t, evaluation.Feedback)
	assert.False(t, evaluation.AutoApprove)
}

func TestEvaluateWithoutAssessorRequiresManualReview(t *testing.T) {
	svc := NewEvaluationService(nil)

	evaluation := svc.Evaluate(context.Background(), "d", "r")

	assert.False(t, evaluation.Approved)
	assert.Equal(t, 0, evaluation.Confidence)
	assert.False(t, evaluation.AutoApprove)
	assert.Contains(t, evaluation.Feedback, "manual review")
}
