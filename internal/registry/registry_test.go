package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/models"
)

type fakeConn struct {
	id           string
	kind         models.ClientKind
	addr         string
	disconnected atomic.Bool
}

func (f *fakeConn) ID() string                                                       { return f.id }
func (f *fakeConn) Kind() models.ClientKind                                          { return f.kind }
func (f *fakeConn) Address() string                                                  { return f.addr }
func (f *fakeConn) StartJob(ctx context.Context, job *models.Job, threads int) error { return nil }
func (f *fakeConn) StopJob(ctx context.Context, jobID string, reason string) error   { return nil }
func (f *fakeConn) Disconnect(ctx context.Context, force bool) error {
	f.disconnected.Store(true)
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(arbor.NewLogger(), nil)
}

func registerLoad(t *testing.T, r *Registry, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, r.RegisterClient(&fakeConn{id: id, kind: models.ClientKindLoad}))
	}
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := newTestRegistry(t)
	registerLoad(t, r, "c1")

	err := r.RegisterClient(&fakeConn{id: "c1", kind: models.ClientKindLoad})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindDuplicateClient, models.KindOf(err))

	// duplicate check spans tables
	err = r.RegisterClient(&fakeConn{id: "c1", kind: models.ClientKindMonitor})
	assert.Equal(t, models.ErrKindDuplicateClient, models.KindOf(err))
}

func TestPickLoadClientsLongestIdleFirst(t *testing.T) {
	r := newTestRegistry(t)
	registerLoad(t, r, "c1", "c2", "c3")

	// c2 has been idle the longest
	r.mu.Lock()
	r.load["c1"].entry.IdleSince = time.Now().Add(-1 * time.Minute)
	r.load["c2"].entry.IdleSince = time.Now().Add(-10 * time.Minute)
	r.load["c3"].entry.IdleSince = time.Now().Add(-5 * time.Minute)
	r.mu.Unlock()

	job := &models.Job{ID: "j1", NumClients: 2}
	picked, err := r.PickLoadClients(job)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3"}, picked)
}

func TestPickLoadClientsHonorsRequested(t *testing.T) {
	r := newTestRegistry(t)
	registerLoad(t, r, "c1", "c2", "c3")

	job := &models.Job{ID: "j1", NumClients: 2, RequestedClients: []string{"c3"}}
	picked, err := r.PickLoadClients(job)
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "c3", picked[0])
}

func TestPickLoadClientsRequestedUnavailable(t *testing.T) {
	r := newTestRegistry(t)
	registerLoad(t, r, "c1", "c2")
	require.NoError(t, r.AssignJob("other", []string{"c2"}, nil))

	job := &models.Job{ID: "j1", NumClients: 1, RequestedClients: []string{"c2"}}
	_, err := r.PickLoadClients(job)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindRequestedClientUnavailable, models.KindOf(err))

	job = &models.Job{ID: "j1", NumClients: 1, RequestedClients: []string{"missing"}}
	_, err = r.PickLoadClients(job)
	assert.Equal(t, models.ErrKindRequestedClientUnavailable, models.KindOf(err))
}

func TestPickLoadClientsInsufficient(t *testing.T) {
	r := newTestRegistry(t)
	registerLoad(t, r, "c1")

	job := &models.Job{ID: "j1", NumClients: 3}
	_, err := r.PickLoadClients(job)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInsufficientClients, models.KindOf(err))
}

func TestPickMonitorClientsIfAvailable(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.RegisterClient(&fakeConn{id: "m1", kind: models.ClientKindMonitor}))

	job := &models.Job{ID: "j1", ResourceMonitorClients: []string{"m1", "m2"}}
	_, err := r.PickMonitorClients(job)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindRequestedClientUnavailable, models.KindOf(err))

	job.MonitorClientsIfAvailable = true
	picked, err := r.PickMonitorClients(job)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, picked)
}

func TestListLoadClientsOrderedByAddress(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.RegisterClient(&fakeConn{id: "c1", kind: models.ClientKindLoad, addr: "10.0.0.2:9000"}))
	require.NoError(t, r.RegisterClient(&fakeConn{id: "c2", kind: models.ClientKindLoad, addr: "10.0.0.1:9000"}))
	require.NoError(t, r.RegisterClient(&fakeConn{id: "c3", kind: models.ClientKindLoad, addr: "10.0.0.1:9000"}))

	// c3 connected before c2 despite sharing an address
	r.mu.Lock()
	r.load["c3"].entry.EstablishedAt = r.load["c2"].entry.EstablishedAt.Add(-time.Minute)
	r.mu.Unlock()

	entries := r.ListLoadClients()
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"c3", "c2", "c1"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
	assert.Equal(t, "10.0.0.1:9000", entries[0].Address)
	assert.Equal(t, "10.0.0.2:9000", entries[2].Address)
}

func TestReleaseJobReturnsClientsToIdlePool(t *testing.T) {
	r := newTestRegistry(t)
	registerLoad(t, r, "c1", "c2")
	require.NoError(t, r.AssignJob("j1", []string{"c1", "c2"}, nil))

	released := r.ReleaseJob(context.Background(), "j1")
	assert.Equal(t, []string{"c1", "c2"}, released)

	entry, ok := r.LoadClient("c1")
	require.True(t, ok)
	assert.Equal(t, models.ClientStatusIdle, entry.Status)
	assert.Empty(t, entry.JobID)
}

func TestRequestDisconnectDeferredUntilJobEnds(t *testing.T) {
	r := newTestRegistry(t)
	conn := &fakeConn{id: "c1", kind: models.ClientKindLoad}
	require.NoError(t, r.RegisterClient(conn))
	require.NoError(t, r.AssignJob("j1", []string{"c1"}, nil))

	require.NoError(t, r.RequestDisconnect(context.Background(), "c1"))
	entry, ok := r.LoadClient("c1")
	require.True(t, ok, "busy client stays connected")
	assert.Equal(t, models.ClientStatusDisconnecting, entry.Status)

	r.ReleaseJob(context.Background(), "j1")
	_, ok = r.LoadClient("c1")
	assert.False(t, ok, "flagged client disconnects when the job ends")
}

func TestForceDisconnectRemovesBusyClient(t *testing.T) {
	r := newTestRegistry(t)
	registerLoad(t, r, "c1")
	require.NoError(t, r.AssignJob("j1", []string{"c1"}, nil))

	require.NoError(t, r.ForceDisconnect(context.Background(), "c1"))
	_, ok := r.LoadClient("c1")
	assert.False(t, ok)

	err := r.ForceDisconnect(context.Background(), "missing")
	assert.Equal(t, models.ErrKindClientNotFound, models.KindOf(err))
}

func TestUnregisterReportsInProgressJob(t *testing.T) {
	r := newTestRegistry(t)
	registerLoad(t, r, "c1")
	require.NoError(t, r.AssignJob("j1", []string{"c1"}, nil))

	jobID, found := r.Unregister("c1")
	require.True(t, found)
	assert.Equal(t, "j1", jobID)
}
