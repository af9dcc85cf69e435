package job

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusNew, StatusInProgress, true},
		{StatusNew, StatusFail, true},
		{StatusNew, StatusCompleted, false},
		{StatusInProgress, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCompletedWithErrors, true},
		{StatusInProgress, StatusFail, true},
		{StatusInProgress, StatusNew, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCompletedWithErrors, StatusFail, false},
		{StatusFail, StatusInProgress, false},
		{StatusFail, StatusFail, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.to, te.To)
		})
	}
}

func TestExecutionTransition_Dates(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	e := &Execution{ID: "job-1", Status: StatusNew}

	require.NoError(t, e.Transition(StatusInProgress, t0))
	require.NotNil(t, e.StartedDate)
	assert.Equal(t, t0, *e.StartedDate)
	assert.Nil(t, e.CompletedDate)

	t1 := t0.Add(time.Minute)
	require.NoError(t, e.Transition(StatusInProgress, t1))
	assert.Equal(t, t0, *e.StartedDate, "re-entering IN_PROGRESS keeps the start date")
	assert.Equal(t, t1, e.LastUpdatedDate)
	assert.Nil(t, e.CompletedDate)

	t2 := t1.Add(time.Minute)
	require.NoError(t, e.Transition(StatusCompletedWithErrors, t2))
	require.NotNil(t, e.CompletedDate)
	assert.Equal(t, t2, *e.CompletedDate)

	err := e.Transition(StatusInProgress, t2.Add(time.Second))
	require.Error(t, err)
	assert.Equal(t, StatusCompletedWithErrors, e.Status)
}

func TestStatusHelpers(t *testing.T) {
	assert.False(t, StatusNew.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCompletedWithErrors.IsTerminal())
	assert.True(t, StatusFail.IsTerminal())

	s, err := ParseStatus("FAIL")
	require.NoError(t, err)
	assert.Equal(t, StatusFail, s)
	_, err = ParseStatus("DONE")
	assert.Error(t, err)

	assert.True(t, UnitFailed.IsTerminal())
	assert.False(t, UnitActive.IsTerminal())
}

func TestParseIDType(t *testing.T) {
	got, err := ParseIDType("")
	require.NoError(t, err)
	assert.Equal(t, IDTypeInstance, got)

	got, err = ParseIDType("holding")
	require.NoError(t, err)
	assert.Equal(t, IDTypeHolding, got)
	assert.Equal(t, "holding", got.Kind())

	_, err = ParseIDType("item")
	assert.Error(t, err)
}

func TestErrorCodeFormat(t *testing.T) {
	assert.Equal(t, "Invalid UUID format: not-a-uuid", ErrorInvalidUUIDFormat.Format("not-a-uuid"))
	assert.Equal(t, "Export of file a.mrc failed: boom", ErrorSliceExport.Format("a.mrc", "boom"))
	assert.Equal(t, "No records found for export", ErrorNoRecordsForExport.Format())
	assert.Equal(t, "error.unknown", ErrorCode("error.unknown").Format("x"))
}

func TestFileDefinitionBaseName(t *testing.T) {
	assert.Equal(t, "ids", (&FileDefinition{ID: "f", FileName: "ids.csv"}).BaseName())
	assert.Equal(t, "f", (&FileDefinition{ID: "f", FileName: ""}).BaseName())
	assert.Equal(t, ".hidden", (&FileDefinition{ID: "f", FileName: ".hidden"}).BaseName())
}
