package exportstats

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulator_ConcurrentWriters(t *testing.T) {
	acc := New()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				acc.AddNotFound(fmt.Sprintf("id-%d", i))
				acc.AddInvalid(fmt.Sprintf("bad-%d-%d", w, i))
				acc.AddDuplicates(1)
			}
		}(w)
	}
	wg.Wait()

	s := acc.Snapshot()
	assert.Len(t, s.NotFound, 100, "not-found ids form a set")
	assert.Len(t, s.Invalid, 800)
	assert.Equal(t, int64(800), s.Duplicates)
	assert.Equal(t, int64(800+800), s.Rejected(), "not-found ids are not rejected input")
}

func TestAccumulator_FailedToReadInput(t *testing.T) {
	acc := New()
	assert.False(t, acc.FailedToReadInput())
	acc.MarkFailedToReadInput()
	assert.True(t, acc.FailedToReadInput())
	assert.True(t, acc.Snapshot().FailedToReadInput)
}

func TestAccumulator_IgnoresNonPositiveCounts(t *testing.T) {
	acc := New()
	acc.AddDuplicates(0)
	acc.AddDuplicates(-3)

	s := acc.Snapshot()
	assert.Zero(t, s.Duplicates)
	assert.Zero(t, s.Rejected())
}

func TestSnapshot_IsACopy(t *testing.T) {
	acc := New()
	acc.AddInvalid("x")
	s := acc.Snapshot()
	s.Invalid[0] = "mutated"

	assert.Equal(t, []string{"x"}, acc.Snapshot().Invalid)
}
