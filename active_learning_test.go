package structex

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProc returns the next scripted result per call, concurrently safe.
func scriptedProc(results ...Result) Processor {
	var n int64
	return procFunc(func(context.Context, string, string, *Schema, ...CallOption) (Result, error) {
		i := atomic.AddInt64(&n, 1) - 1
		if int(i) >= len(results) {
			i = int64(len(results) - 1)
		}
		return cloneResult(results[i]), nil
	})
}

func TestActiveLearning_FullAgreement(t *testing.T) {
	a := NewActiveLearningProcessor(
		scriptedProc(Result{"total": 100.0}, Result{"total": 100.0}, Result{"total": 100.0}),
		WithTrials(3), WithReviewThreshold(0.8),
	)

	result, err := a.Process(context.Background(), "doc.txt", "p", nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, result["total"])
	assert.Equal(t, 1.0, result[KeyConfidence])
	assert.Equal(t, false, result[KeyRequiresReview])
	assert.Equal(t, "active_learning", result[KeyProcessedBy])
}

func TestActiveLearning_DisagreementFlagsReview(t *testing.T) {
	// Two of three trials agree: confidence 2/3, below the 0.8 threshold.
	a := NewActiveLearningProcessor(
		scriptedProc(Result{"total": 100.0}, Result{"total": 100.0}, Result{"total": 120.0}),
		WithTrials(3), WithReviewThreshold(0.8),
	)

	result, err := a.Process(context.Background(), "doc.txt", "p", nil)
	require.NoError(t, err)
	// Disagreement never raises; the modal value wins and the result is
	// flagged instead.
	assert.Equal(t, 100.0, result["total"])
	assert.InDelta(t, 2.0/3.0, result[KeyConfidence].(float64), 1e-9)
	assert.Equal(t, true, result[KeyRequiresReview])
}

func TestActiveLearning_ThresholdBoundary(t *testing.T) {
	a := NewActiveLearningProcessor(
		scriptedProc(Result{"total": 100.0}, Result{"total": 100.0}, Result{"total": 120.0}),
		WithTrials(3), WithReviewThreshold(0.5),
	)

	result, err := a.Process(context.Background(), "doc.txt", "p", nil)
	require.NoError(t, err)
	// 2/3 agreement clears a 0.5 threshold.
	assert.Equal(t, false, result[KeyRequiresReview])
}

func TestActiveLearning_TrialsBypassCache(t *testing.T) {
	stub := &StubProvider{Responses: []Result{{"v": 1.0}}}
	inner := NewSimpleProcessor(stub, WithCache(NewMemoryCache()))
	a := NewActiveLearningProcessor(inner, WithTrials(3))

	_, err := a.Process(context.Background(), "doc.txt", "p", nil, WithDocumentText("text"))
	require.NoError(t, err)
	// Cached trials would fake perfect agreement.
	assert.Equal(t, 3, stub.Calls())
}

func TestActiveLearning_FailedTrialsExcluded(t *testing.T) {
	var n int64
	inner := procFunc(func(context.Context, string, string, *Schema, ...CallOption) (Result, error) {
		if atomic.AddInt64(&n, 1) == 1 {
			return nil, errors.New("trial flake")
		}
		return Result{"total": 100.0}, nil
	})
	a := NewActiveLearningProcessor(inner, WithTrials(3))

	result, err := a.Process(context.Background(), "doc.txt", "p", nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, result["total"])
}

func TestActiveLearning_AllTrialsFail(t *testing.T) {
	a := NewActiveLearningProcessor(failingProc(errors.New("down")), WithTrials(2))
	_, err := a.Process(context.Background(), "doc.txt", "p", nil)
	require.Error(t, err)
	var agg *AggregateFallbackError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Attempts, 2)
}

func TestScoreAgreement_MultipleFields(t *testing.T) {
	final, confidence := scoreAgreement([]Result{
		{"a": 1.0, "b": "x"},
		{"a": 1.0, "b": "y"},
	})
	assert.Equal(t, 1.0, final["a"])
	// a agrees fully (1.0), b splits (0.5): mean 0.75.
	assert.InDelta(t, 0.75, confidence, 1e-9)
}
