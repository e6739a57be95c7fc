package structex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsemble_ConsensusSkipsJudge(t *testing.T) {
	judge := &StubProvider{Responses: []Result{{"total": 999.0}}}
	e := NewEnsembleProcessor([]Participant{
		{Name: "a", Processor: fixedProc(Result{"vendor": "ACME", "total": 100.0})},
		{Name: "b", Processor: fixedProc(Result{"vendor": "ACME", "total": 100.0})},
	}, WithJudge(judge))

	result, err := e.Process(context.Background(), "doc.txt", "p", nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, result["total"])
	assert.Equal(t, "ACME", result["vendor"])
	assert.Equal(t, "ensemble", result[KeyProcessedBy])
	// Full agreement: the judge is never consulted.
	assert.Equal(t, 0, judge.Calls())
}

func TestEnsemble_DisagreementInvokesJudge(t *testing.T) {
	judge := &StubProvider{Responses: []Result{{"total": 110.0}}}
	e := NewEnsembleProcessor([]Participant{
		{Name: "a", Processor: fixedProc(Result{"vendor": "ACME", "total": 100.0})},
		{Name: "b", Processor: fixedProc(Result{"vendor": "ACME", "total": 120.0})},
	}, WithJudge(judge))

	result, err := e.Process(context.Background(), "doc.txt", "p", nil)
	require.NoError(t, err)

	// The judge settles disputed fields only; consensus fields stand.
	assert.Equal(t, 110.0, result["total"])
	assert.Equal(t, "ACME", result["vendor"])
	assert.Equal(t, 1, judge.Calls())

	// The judge saw every candidate output.
	req := judge.LastRequest()
	assert.Contains(t, req.Prompt, "100")
	assert.Contains(t, req.Prompt, "120")
}

func TestEnsemble_SingleReporterFieldTakenAsIs(t *testing.T) {
	e := NewEnsembleProcessor([]Participant{
		{Name: "a", Processor: fixedProc(Result{"vendor": "ACME"})},
		{Name: "b", Processor: fixedProc(Result{"vendor": "ACME", "tax_id": "DE-123"})},
	})

	result, err := e.Process(context.Background(), "doc.txt", "p", nil)
	require.NoError(t, err)
	assert.Equal(t, "DE-123", result["tax_id"])
}

func TestEnsemble_MajorityWithoutJudge(t *testing.T) {
	e := NewEnsembleProcessor([]Participant{
		{Name: "a", Processor: fixedProc(Result{"total": 100.0})},
		{Name: "b", Processor: fixedProc(Result{"total": 100.0})},
		{Name: "c", Processor: fixedProc(Result{"total": 120.0})},
	})

	result, err := e.Process(context.Background(), "doc.txt", "p", nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, result["total"])
}

func TestEnsemble_TieFallsToEarliestParticipant(t *testing.T) {
	e := NewEnsembleProcessor([]Participant{
		{Name: "a", Processor: fixedProc(Result{"total": 100.0})},
		{Name: "b", Processor: fixedProc(Result{"total": 120.0})},
	})

	result, err := e.Process(context.Background(), "doc.txt", "p", nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, result["total"])
}

func TestEnsemble_FailedParticipantExcluded(t *testing.T) {
	e := NewEnsembleProcessor([]Participant{
		{Name: "down", Processor: failingProc(errors.New("down"))},
		{Name: "up", Processor: fixedProc(Result{"vendor": "ACME"})},
	})

	result, err := e.Process(context.Background(), "doc.txt", "p", nil)
	require.NoError(t, err)
	assert.Equal(t, "ACME", result["vendor"])
}

func TestEnsemble_AllParticipantsFailed(t *testing.T) {
	errA := errors.New("a down")
	e := NewEnsembleProcessor([]Participant{
		{Name: "a", Processor: failingProc(errA)},
		{Name: "b", Processor: failingProc(errors.New("b down"))},
	})

	_, err := e.Process(context.Background(), "doc.txt", "p", nil)
	require.Error(t, err)

	var agg *AggregateFallbackError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Attempts, 2)
}

func TestEnsemble_NoParticipants(t *testing.T) {
	e := NewEnsembleProcessor(nil)
	_, err := e.Process(context.Background(), "doc.txt", "p", nil)
	require.ErrorIs(t, err, ErrNoParticipants)
}

func TestMergeCandidates(t *testing.T) {
	merged, disputed := mergeCandidates([]Result{
		{"a": 1.0, "b": "x", KeyProcessedBy: "p1"},
		{"a": 1.0, "b": "y", "c": true},
	})

	// Metadata keys never participate in voting.
	_, hasMeta := merged[KeyProcessedBy]
	assert.False(t, hasMeta)
	assert.Equal(t, 1.0, merged["a"])
	assert.Equal(t, true, merged["c"])
	assert.Equal(t, []string{"b"}, disputed)
}
