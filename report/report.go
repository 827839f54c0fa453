// Package report owns a run's append-only step log and cost ledger and
// renders the machine-readable step log plus the human-readable report.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"storyreel-pipeline/types"
)

// Recorder is the surface pipeline stages use to append step events and
// cost entries. Appending must never block stage execution.
type Recorder interface {
	Event(stage types.RunStage, severity types.Severity, message string) types.StepEvent
	Cost(entry types.CostEntry)
}

// Aggregator is the per-run append-only ledger. Safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	runID   string
	nextSeq int64
	events  []types.StepEvent
	costs   []types.CostEntry
	now     func() time.Time
	log     *slog.Logger
}

// NewAggregator creates an empty ledger for one run. Events are mirrored
// to the structured log sink as they are appended.
func NewAggregator(runID string, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		runID: runID,
		now:   time.Now,
		log:   log.With("run_id", runID),
	}
}

// Event appends one step event, assigning its sequence and timestamp.
func (a *Aggregator) Event(stage types.RunStage, severity types.Severity, message string) types.StepEvent {
	a.mu.Lock()
	a.nextSeq++
	ev := types.StepEvent{
		Seq:       a.nextSeq,
		Timestamp: a.now().UTC(),
		Stage:     stage,
		Message:   Scrub(message),
		Severity:  severity,
	}
	a.events = append(a.events, ev)
	a.mu.Unlock()

	a.log.LogAttrs(context.Background(), level(severity), ev.Message,
		slog.String("stage", string(stage)),
		slog.String("severity", string(severity)),
		slog.Int64("seq", ev.Seq),
	)
	return ev
}

// Cost appends one ledger entry.
func (a *Aggregator) Cost(entry types.CostEntry) {
	a.mu.Lock()
	a.costs = append(a.costs, entry)
	a.mu.Unlock()

	a.log.LogAttrs(context.Background(), slog.LevelInfo, "cost recorded",
		slog.String("stage", string(entry.Stage)),
		slog.Float64("amount", entry.Amount),
		slog.String("currency", entry.Currency),
	)
}

// Events returns a copy of the step log in append order.
func (a *Aggregator) Events() []types.StepEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.StepEvent(nil), a.events...)
}

// Costs returns a copy of the ledger in append order.
func (a *Aggregator) Costs() []types.CostEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.CostEntry(nil), a.costs...)
}

// TotalCost sums the ledger. Monotonically non-decreasing over the run.
func (a *Aggregator) TotalCost() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total float64
	for _, c := range a.costs {
		total += c.Amount
	}
	return total
}

// stepLog is the machine-readable run summary written to the object store.
type stepLog struct {
	RunID     string            `json:"run_id"`
	Events    []types.StepEvent `json:"events"`
	Costs     []types.CostEntry `json:"costs"`
	TotalCost float64           `json:"total_cost"`
}

// StepLog renders the ordered events and cost entries as JSON.
func (a *Aggregator) StepLog() ([]byte, error) {
	return json.MarshalIndent(stepLog{
		RunID:     a.runID,
		Events:    a.Events(),
		Costs:     a.Costs(),
		TotalCost: a.TotalCost(),
	}, "", "  ")
}

// Render produces the human-readable run report. Resources appear by
// opaque reference only; messages have already been scrubbed at append
// time.
func (a *Aggregator) Render(run types.PipelineRun, job types.StitchJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", run.RunID)
	fmt.Fprintf(&b, "Created: %s\n", run.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Final state: %s\n", run.Stage)
	fmt.Fprintf(&b, "Stitch mode: %s (fallback used: %v)\n", job.Mode, run.FallbackUsed)
	if run.OutputRef != "" {
		fmt.Fprintf(&b, "Output: %s\n", run.OutputRef)
	}
	if run.Error != "" {
		fmt.Fprintf(&b, "Failure: %s\n", Scrub(run.Error))
	}

	b.WriteString("\nSteps:\n")
	for _, ev := range a.Events() {
		fmt.Fprintf(&b, "  %s  [%s] %-7s %s\n",
			ev.Timestamp.Format(time.RFC3339), ev.Stage, ev.Severity, ev.Message)
	}

	costs := a.Costs()
	if len(costs) > 0 {
		b.WriteString("\nCosts:\n")
		totals := make(map[string]float64)
		var currencies []string
		for _, c := range costs {
			fmt.Fprintf(&b, "  %-20s %.4f %s\n", c.Stage, c.Amount, c.Currency)
			if _, seen := totals[c.Currency]; !seen {
				currencies = append(currencies, c.Currency)
			}
			totals[c.Currency] += c.Amount
		}
		for _, cur := range currencies {
			fmt.Fprintf(&b, "Total: %.4f %s\n", totals[cur], cur)
		}
	}
	return b.String()
}

// secretPattern matches credential-shaped fragments that must never reach
// the step log or report.
var secretPattern = regexp.MustCompile(`(?i)(bearer\s+\S+|(?:api[_-]?key|token|secret|signature|password)=\S+)`)

// Scrub redacts credential-shaped substrings from a message.
func Scrub(message string) string {
	return secretPattern.ReplaceAllString(message, "[redacted]")
}

func level(s types.Severity) slog.Level {
	switch s {
	case types.SeverityWarning:
		return slog.LevelWarn
	case types.SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
