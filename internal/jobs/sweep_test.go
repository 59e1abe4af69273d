package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReleaser struct {
	calls    atomic.Int32
	released int
	err      error
	limit    int
}

func (m *mockReleaser) ReleaseExpired(_ context.Context, limit int) (int, error) {
	m.calls.Add(1)
	m.limit = limit
	return m.released, m.err
}

func TestReservationSweepJob_RunOnce(t *testing.T) {
	r := &mockReleaser{released: 3}
	job := NewReservationSweepJob(r, "")

	assert.Equal(t, 3, job.RunOnce(context.Background()))
	assert.Equal(t, defaultSweepBatch, r.limit)
}

func TestReservationSweepJob_RunOnceError(t *testing.T) {
	r := &mockReleaser{released: 1, err: errors.New("db down")}
	job := NewReservationSweepJob(r, "")

	assert.NotPanics(t, func() {
		assert.Equal(t, 1, job.RunOnce(context.Background()))
	})
}

func TestReservationSweepJob_InvalidSchedule(t *testing.T) {
	job := NewReservationSweepJob(&mockReleaser{}, "every so often")
	assert.Error(t, job.Start())
}

func TestReservationSweepJob_StartStop(t *testing.T) {
	r := &mockReleaser{}
	job := NewReservationSweepJob(r, "@every 1s")

	require.NoError(t, job.Start())
	assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	job.Stop()
	job.Stop()
}
