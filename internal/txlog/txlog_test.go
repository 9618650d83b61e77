package txlog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Vocabulary Tests
// =============================================================================

func TestParseStage(t *testing.T) {
	tests := []struct {
		name    string
		actor   Actor
		input   string
		want    Stage
		wantErr bool
	}{
		{name: "agent init", actor: ActorAgent, input: "AGENT_INIT", want: AgentInit},
		{name: "agent lower case", actor: ActorAgent, input: "agent_end", want: AgentEnd},
		{name: "worker etl", actor: ActorWorker, input: "WORKER_ETL", want: WorkerETL},
		{name: "worker stage from agent", actor: ActorAgent, input: "WORKER_INIT", wantErr: true},
		{name: "agent stage from worker", actor: ActorWorker, input: "AGENT_DUMP", wantErr: true},
		{name: "unknown stage", actor: ActorAgent, input: "AGENT_UPLOAD", wantErr: true},
		{name: "empty", actor: ActorWorker, input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStage(tt.actor, tt.input)
			if tt.wantErr {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "stage", verr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActorStages_Disjoint(t *testing.T) {
	agent := ActorAgent.Stages()
	worker := ActorWorker.Stages()

	assert.Len(t, agent, 6)
	assert.Len(t, worker, 7)
	for _, s := range agent {
		assert.NotContains(t, worker, s)
	}

	// Callers cannot mutate the package vocabulary
	agent[0] = "BOGUS"
	assert.Equal(t, AgentInit, ActorAgent.Stages()[0])
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"SUCCESS", "warning", "Fail", "FATAL"} {
		_, err := ParseStatus(s)
		assert.NoError(t, err, s)
	}

	_, err := ParseStatus("OK")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "status", verr.Field)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2024-03-05T14:07:09")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC), ts)

	invalid := []string{
		"2024-03-05 14:07:09",
		"2024-03-05T14:07",
		"2024-03-05T14:07:09Z",
		"2024-03-05T14:07:09.123",
		"24-03-05T14:07:09",
		"2024-13-05T14:07:09",
		"",
	}
	for _, s := range invalid {
		_, err := ParseTimestamp(s)
		assert.Error(t, err, s)
	}
}

func TestReportValidate(t *testing.T) {
	valid := Report{Stage: "agent_dump", Status: "success", Timestamp: "2024-03-05T14:07:09", Message: "dumped"}

	got, err := valid.Validate(ActorAgent)
	require.NoError(t, err)
	assert.Equal(t, AgentDump, got.Stage)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, "dumped", got.Message)

	tests := []struct {
		name  string
		edit  func(r *Report)
		field string
	}{
		{name: "missing stage", edit: func(r *Report) { r.Stage = "" }, field: "parameters"},
		{name: "bad stage", edit: func(r *Report) { r.Stage = "AGENT_NAP" }, field: "stage"},
		{name: "bad status", edit: func(r *Report) { r.Status = "MAYBE" }, field: "status"},
		{name: "bad timestamp", edit: func(r *Report) { r.Timestamp = "yesterday" }, field: "timestamp"},
		{name: "empty message", edit: func(r *Report) { r.Message = "" }, field: "message"},
		{name: "blank message", edit: func(r *Report) { r.Message = "   " }, field: "message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.edit(&r)
			_, err := r.Validate(ActorAgent)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

// =============================================================================
// Set Tests
// =============================================================================

func TestTransactionSet_CollapsesDuplicates(t *testing.T) {
	set := NewTransactionSet("t1", "t2", "t1", "t1")
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []string{"t1", "t2"}, set.Sorted())
}

func TestTransactionSet_Difference(t *testing.T) {
	agent := NewTransactionSet("t1", "t2", "t3")
	started := NewTransactionSet("t2", "t9")

	needs := agent.Difference(started)
	assert.Equal(t, []string{"t1", "t3"}, needs.Sorted())

	// Recomputing without new input yields the same set
	assert.True(t, needs.Equal(agent.Difference(started)))
	// Inputs are untouched
	assert.Equal(t, 3, agent.Len())
}

func TestTransactionSet_Equal(t *testing.T) {
	assert.True(t, NewTransactionSet("a", "b").Equal(NewTransactionSet("b", "a")))
	assert.False(t, NewTransactionSet("a", "b").Equal(NewTransactionSet("a", "c")))
	assert.False(t, NewTransactionSet("a").Equal(NewTransactionSet("a", "b")))
	assert.True(t, NewTransactionSet().Equal(TransactionSet{}))
}

// =============================================================================
// Window Tests
// =============================================================================

func TestHourWindow(t *testing.T) {
	now := time.Date(2024, 7, 1, 13, 42, 17, 500, time.UTC)
	w := HourWindow(now)

	assert.Equal(t, time.Date(2024, 7, 1, 13, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, 7, 1, 13, 59, 59, 0, time.UTC), w.End)
	assert.Equal(t, "2024-07-01 13:00:00 through 2024-07-01 13:59:59", w.String())
}

func TestHourWindow_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("plus2", 2*60*60)
	w := HourWindow(time.Date(2024, 7, 1, 1, 30, 0, 0, loc))
	assert.Equal(t, time.Date(2024, 6, 30, 23, 0, 0, 0, time.UTC), w.Start)
}

func TestDayWindow(t *testing.T) {
	w := DayWindow(2023, time.February, 28)
	assert.Equal(t, time.Date(2023, 2, 28, 23, 59, 59, 0, time.UTC), w.End)
}

// =============================================================================
// Projection Tests
// =============================================================================

func TestLatest_IndependentOfScanOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: 3, Stage: WorkerInit, Status: StatusSuccess, Timestamp: base.Add(2 * time.Minute)},
		{ID: 1, Stage: WorkerInit, Status: StatusFail, Timestamp: base},
		{ID: 2, Stage: WorkerDecrypt, Status: StatusSuccess, Timestamp: base.Add(time.Minute)},
		{ID: 4, Stage: WorkerInit, Status: StatusFatal, Timestamp: base.Add(time.Minute)},
	}

	latest, ok := Latest(events, WorkerInit)
	require.True(t, ok)
	assert.Equal(t, int64(3), latest.ID)
	assert.True(t, latest.Succeeded())

	// Reverse the input; the result must not change
	reversed := make([]Event, len(events))
	for i, e := range events {
		reversed[len(events)-1-i] = e
	}
	again, ok := Latest(reversed, WorkerInit)
	require.True(t, ok)
	assert.Equal(t, latest, again)

	_, ok = Latest(events, WorkerEnd)
	assert.False(t, ok)
}

func TestLatest_TieBrokenBySequence(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: 7, Stage: WorkerInit, Status: StatusSuccess, Timestamp: ts},
		{ID: 5, Stage: WorkerInit, Status: StatusFail, Timestamp: ts},
	}

	e, ok := Latest(events, WorkerInit)
	require.True(t, ok)
	assert.Equal(t, int64(7), e.ID)

	_, ok = Latest(events, WorkerEnd)
	assert.False(t, ok)
}
