package models

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStore_CreateGet(t *testing.T) {
	store := NewJobStore()

	job := store.Create("migration")
	require.NotEmpty(t, job.ID)
	assert.Equal(t, "running", job.Status)
	assert.False(t, job.Done())

	assert.Same(t, job, store.Get(job.ID))
	assert.Nil(t, store.Get("nonexistent"))
}

func TestJobStore_ListMostRecentFirst(t *testing.T) {
	store := NewJobStore()
	older := store.Create("migration")
	newer := store.Create("resume")
	older.StartedAt = newer.StartedAt.Add(-time.Minute)

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}

func TestJob_LogsSince(t *testing.T) {
	j := NewJobStore().Create("migration")
	j.AppendLog("one")
	j.AppendLog("two")
	j.AppendLog("three")

	assert.Equal(t, []string{"two", "three"}, j.LogsSince(1))
	assert.Nil(t, j.LogsSince(3))
}

func TestJob_Lifecycle(t *testing.T) {
	j := NewJobStore().Create("migration")

	j.StartStep("suites")
	assert.Equal(t, "suites", j.Snapshot().Step)

	j.FinishStep(StepReport{Name: "suites", Project: "P1", Status: "done"})
	snap := j.Snapshot()
	assert.Empty(t, snap.Step)
	require.Len(t, snap.Steps, 1)
	assert.Equal(t, "P1", snap.Steps[0].Project)

	j.Fail("boom")
	assert.True(t, j.Done())
	snap = j.Snapshot()
	assert.Equal(t, "failed", snap.Status)
	assert.Equal(t, "boom", snap.Error)
	assert.NotNil(t, snap.FinishedAt)
}

func TestJob_ConcurrentAppend(t *testing.T) {
	j := NewJobStore().Create("migration")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.AppendLog("line")
			j.Snapshot()
		}()
	}
	wg.Wait()
	assert.Len(t, j.LogsSince(0), 50)
}
