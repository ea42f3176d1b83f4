package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_SnapshotReflectsRecordedCounts(t *testing.T) {
	r := New()
	r.IncStatus(200)
	r.IncStatus(200)
	r.IncStatus(500)
	r.IncRetry()
	r.IncDispatched()
	r.IncDispatched()

	snap := r.Snapshot()

	assert.Equal(t, int64(2), snap.RequestsByStatus[200])
	assert.Equal(t, int64(1), snap.RequestsByStatus[500])
	assert.Equal(t, int64(1), snap.Retries)
	assert.Equal(t, int64(2), snap.Dispatched)
}

func TestRegistry_SnapshotIsACopyNotALiveView(t *testing.T) {
	r := New()
	r.IncStatus(200)

	snap := r.Snapshot()
	r.IncStatus(200)

	assert.Equal(t, int64(1), snap.RequestsByStatus[200])
}

func TestRegistry_ConcurrentIncrementsAreRace_Free(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncStatus(200)
			r.IncDispatched()
		}()
	}
	wg.Wait()

	snap := r.Snapshot()
	assert.Equal(t, int64(100), snap.RequestsByStatus[200])
	assert.Equal(t, int64(100), snap.Dispatched)
}
