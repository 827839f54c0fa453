package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel-pipeline/types"
)

func TestEventSequencesAreStrictlyIncreasing(t *testing.T) {
	a := NewAggregator("run-1", nil)
	for i := 0; i < 5; i++ {
		a.Event(types.StageSynthesizing, types.SeverityInfo, "step")
	}
	events := a.Events()
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestTotalCostIsLedgerSum(t *testing.T) {
	a := NewAggregator("run-1", nil)
	a.Cost(types.CostEntry{Stage: types.StageSynthesizing, Amount: 0.003, Currency: "USD"})
	a.Cost(types.CostEntry{Stage: types.StageSynthesizing, Amount: 0.003, Currency: "USD"})
	a.Cost(types.CostEntry{Stage: types.StageStitching, Amount: 0.02, Currency: "USD"})
	assert.InDelta(t, 0.026, a.TotalCost(), 1e-9)
}

func TestEventMessagesAreScrubbed(t *testing.T) {
	a := NewAggregator("run-1", nil)
	ev := a.Event(types.StageSynthesizing, types.SeverityError,
		"request failed: Authorization: Bearer sk-live-12345 rejected")
	assert.NotContains(t, ev.Message, "sk-live-12345")
	assert.Contains(t, ev.Message, "[redacted]")
}

func TestScrubRedactsCredentialShapes(t *testing.T) {
	cases := []string{
		"GET /v1/images?api_key=abc123 failed",
		"upload to https://s3.example/x?signature=deadbeef&expires=1 timed out",
		"token=eyJhbGciOi rejected",
		"password=hunter2 in dsn",
	}
	for _, msg := range cases {
		got := Scrub(msg)
		assert.Contains(t, got, "[redacted]", "input %q", msg)
		assert.NotContains(t, got, "abc123")
		assert.NotContains(t, got, "hunter2")
	}
}

func TestStepLogRendersLedger(t *testing.T) {
	a := NewAggregator("run-7", nil)
	a.Event(types.StageValidating, types.SeveritySuccess, "run accepted")
	a.Cost(types.CostEntry{Stage: types.StageSynthesizing, Amount: 0.01, Currency: "USD"})

	raw, err := a.StepLog()
	require.NoError(t, err)

	var decoded struct {
		RunID     string            `json:"run_id"`
		Events    []types.StepEvent `json:"events"`
		Costs     []types.CostEntry `json:"costs"`
		TotalCost float64           `json:"total_cost"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "run-7", decoded.RunID)
	require.Len(t, decoded.Events, 1)
	assert.InDelta(t, 0.01, decoded.TotalCost, 1e-9)
}

func TestRenderTotalsPerCurrency(t *testing.T) {
	a := NewAggregator("run-1", nil)
	a.Cost(types.CostEntry{Stage: types.StageSynthesizing, Amount: 0.003, Currency: "USD"})
	a.Cost(types.CostEntry{Stage: types.StageSynthesizing, Amount: 0.007, Currency: "USD"})
	a.Cost(types.CostEntry{Stage: types.StageStitching, Amount: 0.5, Currency: "EUR"})

	text := a.Render(types.PipelineRun{RunID: "run-1", Stage: types.StageSucceeded}, types.StitchJob{})
	assert.Contains(t, text, "Total: 0.0100 USD")
	assert.Contains(t, text, "Total: 0.5000 EUR")
}

func TestRenderScrubsFailureMessage(t *testing.T) {
	a := NewAggregator("run-1", nil)
	run := types.PipelineRun{
		RunID:     "run-1",
		CreatedAt: time.Unix(0, 0),
		Stage:     types.StageFailed,
		Error:     "submit failed with api_key=secret99",
	}
	text := a.Render(run, types.StitchJob{Mode: types.StitchModeRemote})
	assert.NotContains(t, text, "secret99")
	assert.Contains(t, text, "[redacted]")
	assert.Contains(t, text, "Final state: failed")
}
