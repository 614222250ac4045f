package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/models"
)

type fakeManagerConn struct {
	id       string
	started  atomic.Int64
	stopped  atomic.Int64
	startErr error
}

func (f *fakeManagerConn) ID() string      { return f.id }
func (f *fakeManagerConn) Address() string { return "" }
func (f *fakeManagerConn) StartClients(ctx context.Context, count int) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Add(int64(count))
	return nil
}
func (f *fakeManagerConn) StopClients(ctx context.Context, count int) error {
	f.stopped.Add(int64(count))
	return nil
}
func (f *fakeManagerConn) Disconnect(ctx context.Context, force bool) error { return nil }

func TestPlanConnectRoundRobinRespectsCaps(t *testing.T) {
	managers := []*models.ClientManagerEntry{
		{ID: "m1", StartedClients: 2, MaxClients: 5},
		{ID: "m2", StartedClients: 0, MaxClients: 3},
		{ID: "m3", StartedClients: 1, MaxClients: 1},
	}

	plan := PlanConnect(managers, 6)
	assert.Equal(t, 3, plan["m1"])
	assert.Equal(t, 3, plan["m2"])
	_, hasM3 := plan["m3"]
	assert.False(t, hasM3, "a manager at cap gets nothing")
	assert.Equal(t, 6, PlanTotal(plan))
}

func TestPlanConnectShortFleet(t *testing.T) {
	managers := []*models.ClientManagerEntry{
		{ID: "m1", StartedClients: 4, MaxClients: 5},
	}
	plan := PlanConnect(managers, 10)
	assert.Equal(t, 1, PlanTotal(plan))
}

func TestPlanConnectUnlimitedManager(t *testing.T) {
	managers := []*models.ClientManagerEntry{
		{ID: "m1", StartedClients: 3, MaxClients: 0},
	}
	plan := PlanConnect(managers, 7)
	assert.Equal(t, 7, plan["m1"])
}

func TestPlanConnectEmpty(t *testing.T) {
	assert.Empty(t, PlanConnect(nil, 5))
	assert.Empty(t, PlanConnect([]*models.ClientManagerEntry{{ID: "m1", MaxClients: 5}}, 0))
}

func TestManagerControllerEnforcesCap(t *testing.T) {
	r := newTestRegistry(t)
	conn := &fakeManagerConn{id: "m1"}
	require.NoError(t, r.RegisterManager(conn, 2))

	c := NewManagerController(r, arbor.NewLogger(), 0)
	err := c.StartClients(context.Background(), "m1", 3)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindCapacityExceeded, models.KindOf(err))
	assert.Zero(t, conn.started.Load())

	require.NoError(t, c.StartClients(context.Background(), "m1", 2))
	assert.Equal(t, int64(2), conn.started.Load())

	entry, _ := r.Manager("m1")
	assert.Equal(t, 2, entry.StartedClients)

	// now at cap
	err = c.StartClients(context.Background(), "m1", 1)
	assert.Equal(t, models.ErrKindCapacityExceeded, models.KindOf(err))
}

func TestManagerControllerBusy(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.RegisterManager(&fakeManagerConn{id: "m1"}, 5))
	r.UpdateManager("m1", func(m *models.ClientManagerEntry) { m.Busy = true })

	c := NewManagerController(r, arbor.NewLogger(), 0)
	err := c.StartClients(context.Background(), "m1", 1)
	assert.Equal(t, models.ErrKindManagerBusy, models.KindOf(err))
}

func TestManagerControllerUnreachable(t *testing.T) {
	r := newTestRegistry(t)
	conn := &fakeManagerConn{id: "m1", startErr: errors.New("connection reset")}
	require.NoError(t, r.RegisterManager(conn, 5))

	c := NewManagerController(r, arbor.NewLogger(), 0)
	err := c.StartClients(context.Background(), "m1", 1)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindManagerUnreachable, models.KindOf(err))

	// counter unchanged on failure
	entry, _ := r.Manager("m1")
	assert.Zero(t, entry.StartedClients)
}

func TestStopClientsBoundsAndCounter(t *testing.T) {
	r := newTestRegistry(t)
	conn := &fakeManagerConn{id: "m1"}
	require.NoError(t, r.RegisterManager(conn, 5))
	c := NewManagerController(r, arbor.NewLogger(), 0)

	require.NoError(t, c.StartClients(context.Background(), "m1", 3))

	err := c.StopClients(context.Background(), "m1", 4)
	assert.Equal(t, models.ErrKindValidationFailed, models.KindOf(err))

	require.NoError(t, c.StopClients(context.Background(), "m1", 2))
	entry, _ := r.Manager("m1")
	assert.Equal(t, 1, entry.StartedClients)
}

func TestStopClientsAllWithNegativeOne(t *testing.T) {
	r := newTestRegistry(t)
	conn := &fakeManagerConn{id: "m1"}
	require.NoError(t, r.RegisterManager(conn, 5))
	c := NewManagerController(r, arbor.NewLogger(), 0)

	// nothing started yet: stop-all is a no-op with no wire traffic
	require.NoError(t, c.StopClients(context.Background(), "m1", -1))
	assert.Zero(t, conn.stopped.Load())

	require.NoError(t, c.StartClients(context.Background(), "m1", 3))
	require.NoError(t, c.StopClients(context.Background(), "m1", -1))
	assert.Equal(t, int64(3), conn.stopped.Load())
	entry, _ := r.Manager("m1")
	assert.Zero(t, entry.StartedClients)

	err := c.StopClients(context.Background(), "m1", -2)
	assert.Equal(t, models.ErrKindValidationFailed, models.KindOf(err))
}

func TestConnectClientsAcrossFleet(t *testing.T) {
	r := newTestRegistry(t)
	m1 := &fakeManagerConn{id: "m1"}
	m2 := &fakeManagerConn{id: "m2"}
	require.NoError(t, r.RegisterManager(m1, 5))
	require.NoError(t, r.RegisterManager(m2, 3))
	r.UpdateManager("m1", func(m *models.ClientManagerEntry) { m.StartedClients = 2 })

	c := NewManagerController(r, arbor.NewLogger(), 0)
	plan, err := c.ConnectClients(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, 3, plan["m1"])
	assert.Equal(t, 3, plan["m2"])
	assert.Equal(t, int64(3), m1.started.Load())
	assert.Equal(t, int64(3), m2.started.Load())
}

func TestConnectClientsNoCapacity(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.RegisterManager(&fakeManagerConn{id: "m1"}, 1))
	r.UpdateManager("m1", func(m *models.ClientManagerEntry) { m.StartedClients = 1 })

	c := NewManagerController(r, arbor.NewLogger(), 0)
	_, err := c.ConnectClients(context.Background(), 2)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindCapacityExceeded, models.KindOf(err))
}
