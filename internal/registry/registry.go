// -----------------------------------------------------------------------
// Registry - Connection tables for load clients, monitors, and managers
// -----------------------------------------------------------------------

package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/interfaces"
	"github.com/ternarybob/onero/internal/models"
)

type loadClient struct {
	entry models.ClientEntry
	conn  interfaces.ClientConnection
}

type monitorClient struct {
	entry models.ClientEntry
	conn  interfaces.ClientConnection
}

type manager struct {
	entry models.ClientManagerEntry
	conn  interfaces.ClientManagerConnection
}

// Registry tracks every connected worker in three tables guarded by one
// mutex. All lookups return copies; connections are handed out for dispatch
// but state changes go through the registry.
type Registry struct {
	mu       sync.Mutex
	logger   arbor.ILogger
	events   interfaces.EventService
	load     map[string]*loadClient
	monitors map[string]*monitorClient
	managers map[string]*manager
}

// NewRegistry creates an empty client registry.
func NewRegistry(logger arbor.ILogger, events interfaces.EventService) *Registry {
	return &Registry{
		logger:   logger,
		events:   events,
		load:     make(map[string]*loadClient),
		monitors: make(map[string]*monitorClient),
		managers: make(map[string]*manager),
	}
}

// RegisterClient adds a load or monitor client. Duplicate IDs are rejected
// across all three tables.
func (r *Registry) RegisterClient(conn interfaces.ClientConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if r.idInUseLocked(id) {
		return models.NewError(models.ErrKindDuplicateClient, "client ID %s is already connected", id)
	}

	now := time.Now()
	entry := models.ClientEntry{
		ID:            id,
		Kind:          conn.Kind(),
		Address:       conn.Address(),
		Status:        models.ClientStatusIdle,
		EstablishedAt: now,
		IdleSince:     now,
	}

	switch conn.Kind() {
	case models.ClientKindMonitor:
		entry.MonitoredJobIDs = make(map[string]struct{})
		r.monitors[id] = &monitorClient{entry: entry, conn: conn}
	default:
		r.load[id] = &loadClient{entry: entry, conn: conn}
	}

	r.logger.Info().Str("client_id", id).Str("kind", string(conn.Kind())).Msg("Client registered")
	r.publish(interfaces.EventClientConnected, entry.Clone())
	return nil
}

// RegisterManager adds a client manager. maxClients of zero means unlimited.
func (r *Registry) RegisterManager(conn interfaces.ClientManagerConnection, maxClients int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if r.idInUseLocked(id) {
		return models.NewError(models.ErrKindDuplicateClient, "client ID %s is already connected", id)
	}

	r.managers[id] = &manager{
		entry: models.ClientManagerEntry{
			ID:            id,
			Address:       conn.Address(),
			EstablishedAt: time.Now(),
			MaxClients:    maxClients,
		},
		conn: conn,
	}

	r.logger.Info().Str("manager_id", id).Int("max_clients", maxClients).Msg("Client manager registered")
	return nil
}

// Unregister removes an ID from whichever table holds it. Returns the load
// client's in-progress job ID, if any, so the scheduler can react to the loss.
func (r *Registry) Unregister(id string) (jobID string, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lc, ok := r.load[id]; ok {
		delete(r.load, id)
		r.logger.Info().Str("client_id", id).Msg("Load client unregistered")
		r.publish(interfaces.EventClientDisconnected, lc.entry.Clone())
		return lc.entry.JobID, true
	}
	if mc, ok := r.monitors[id]; ok {
		delete(r.monitors, id)
		r.logger.Info().Str("client_id", id).Msg("Monitor client unregistered")
		r.publish(interfaces.EventClientDisconnected, mc.entry.Clone())
		return "", true
	}
	if _, ok := r.managers[id]; ok {
		delete(r.managers, id)
		r.logger.Info().Str("manager_id", id).Msg("Client manager unregistered")
		return "", true
	}
	return "", false
}

// LoadClient returns a copy of the load client entry.
func (r *Registry) LoadClient(id string) (*models.ClientEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lc, ok := r.load[id]
	if !ok {
		return nil, false
	}
	return lc.entry.Clone(), true
}

// MonitorClient returns a copy of the monitor client entry.
func (r *Registry) MonitorClient(id string) (*models.ClientEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mc, ok := r.monitors[id]
	if !ok {
		return nil, false
	}
	return mc.entry.Clone(), true
}

// Manager returns a copy of the manager entry.
func (r *Registry) Manager(id string) (*models.ClientManagerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[id]
	if !ok {
		return nil, false
	}
	return m.entry.Clone(), true
}

// ListLoadClients returns copies of all load client entries in listing order.
func (r *Registry) ListLoadClients() []*models.ClientEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := lo.Map(lo.Values(r.load), func(lc *loadClient, _ int) *models.ClientEntry {
		return lc.entry.Clone()
	})
	sortClientEntries(entries)
	return entries
}

// ListMonitorClients returns copies of all monitor client entries in listing
// order.
func (r *Registry) ListMonitorClients() []*models.ClientEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := lo.Map(lo.Values(r.monitors), func(mc *monitorClient, _ int) *models.ClientEntry {
		return mc.entry.Clone()
	})
	sortClientEntries(entries)
	return entries
}

// ListManagers returns copies of all manager entries in listing order.
func (r *Registry) ListManagers() []*models.ClientManagerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := lo.Map(lo.Values(r.managers), func(m *manager, _ int) *models.ClientManagerEntry {
		return m.entry.Clone()
	})
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Address != entries[j].Address {
			return entries[i].Address < entries[j].Address
		}
		if !entries[i].EstablishedAt.Equal(entries[j].EstablishedAt) {
			return entries[i].EstablishedAt.Before(entries[j].EstablishedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// sortClientEntries orders listings by address, then connection establishment
// time, with ID as the final tie-break.
func sortClientEntries(entries []*models.ClientEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Address != entries[j].Address {
			return entries[i].Address < entries[j].Address
		}
		if !entries[i].EstablishedAt.Equal(entries[j].EstablishedAt) {
			return entries[i].EstablishedAt.Before(entries[j].EstablishedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

// PickLoadClients selects the load clients for a job. Every explicitly
// requested client must be connected and idle; the remainder is filled with
// the longest-idle available clients. No state is changed; call AssignJob
// with the returned IDs to claim them.
func (r *Registry) PickLoadClients(job *models.Job) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	picked := make([]string, 0, job.NumClients)
	taken := make(map[string]bool, job.NumClients)

	for _, id := range job.RequestedClients {
		lc, ok := r.load[id]
		if !ok {
			return nil, models.NewError(models.ErrKindRequestedClientUnavailable,
				"requested client %s is not connected", id)
		}
		if !lc.entry.IsAvailable() {
			return nil, models.NewError(models.ErrKindRequestedClientUnavailable,
				"requested client %s is busy", id)
		}
		picked = append(picked, id)
		taken[id] = true
	}

	if remaining := job.NumClients - len(picked); remaining > 0 {
		available := lo.Filter(lo.Values(r.load), func(lc *loadClient, _ int) bool {
			return lc.entry.IsAvailable() && !taken[lc.entry.ID]
		})
		// Longest idle first; ID breaks ties deterministically
		sort.Slice(available, func(i, j int) bool {
			if !available[i].entry.IdleSince.Equal(available[j].entry.IdleSince) {
				return available[i].entry.IdleSince.Before(available[j].entry.IdleSince)
			}
			return available[i].entry.ID < available[j].entry.ID
		})
		if len(available) < remaining {
			return nil, models.NewError(models.ErrKindInsufficientClients,
				"need %d clients, only %d available", job.NumClients, len(picked)+len(available))
		}
		for _, lc := range available[:remaining] {
			picked = append(picked, lc.entry.ID)
		}
	}

	return picked, nil
}

// PickMonitorClients resolves the resource monitor set for a job. Named
// monitors must be connected unless the job tolerates missing ones.
func (r *Registry) PickMonitorClients(job *models.Job) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	picked := make([]string, 0, len(job.ResourceMonitorClients))
	for _, id := range job.ResourceMonitorClients {
		if _, ok := r.monitors[id]; !ok {
			if job.MonitorClientsIfAvailable {
				continue
			}
			return nil, models.NewError(models.ErrKindRequestedClientUnavailable,
				"monitor client %s is not connected", id)
		}
		picked = append(picked, id)
	}
	return picked, nil
}

// AssignJob claims the given load and monitor clients for a job.
func (r *Registry) AssignJob(jobID string, loadIDs, monitorIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range loadIDs {
		lc, ok := r.load[id]
		if !ok || !lc.entry.IsAvailable() {
			return models.NewError(models.ErrKindRequestedClientUnavailable,
				"client %s became unavailable", id)
		}
	}

	for _, id := range loadIDs {
		lc := r.load[id]
		lc.entry.Status = models.ClientStatusAssigned
		lc.entry.JobID = jobID
	}
	for _, id := range monitorIDs {
		if mc, ok := r.monitors[id]; ok {
			mc.entry.MonitoredJobIDs[jobID] = struct{}{}
			mc.entry.Status = models.ClientStatusRunning
		}
	}
	return nil
}

// MarkRunning transitions an assigned load client to running.
func (r *Registry) MarkRunning(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lc, ok := r.load[id]; ok && lc.entry.Status == models.ClientStatusAssigned {
		lc.entry.Status = models.ClientStatusRunning
	}
}

// ReleaseJob returns a job's clients to the idle pool. Clients flagged for
// graceful disconnect are disconnected instead of going idle. The released
// load client IDs are returned.
func (r *Registry) ReleaseJob(ctx context.Context, jobID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released []string
	now := time.Now()
	for id, lc := range r.load {
		if lc.entry.JobID != jobID {
			continue
		}
		released = append(released, id)
		if lc.entry.Status == models.ClientStatusDisconnecting {
			r.disconnectLoadLocked(ctx, id, false)
			continue
		}
		lc.entry.Status = models.ClientStatusIdle
		lc.entry.JobID = ""
		lc.entry.IdleSince = now
	}
	for id, mc := range r.monitors {
		if _, ok := mc.entry.MonitoredJobIDs[jobID]; !ok {
			continue
		}
		delete(mc.entry.MonitoredJobIDs, jobID)
		if len(mc.entry.MonitoredJobIDs) == 0 {
			if mc.entry.Status == models.ClientStatusDisconnecting {
				r.disconnectMonitorLocked(ctx, id, false)
				continue
			}
			mc.entry.Status = models.ClientStatusIdle
			mc.entry.IdleSince = now
		}
	}
	sort.Strings(released)
	return released
}

// RequestDisconnect asks a client to disconnect. Idle clients disconnect
// immediately; busy ones are flagged and disconnect when their current work
// finishes.
func (r *Registry) RequestDisconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lc, ok := r.load[id]; ok {
		if lc.entry.IsAvailable() {
			r.disconnectLoadLocked(ctx, id, false)
			return nil
		}
		lc.entry.Status = models.ClientStatusDisconnecting
		r.logger.Debug().Str("client_id", id).Msg("Disconnect deferred until job completes")
		return nil
	}
	if mc, ok := r.monitors[id]; ok {
		if len(mc.entry.MonitoredJobIDs) == 0 {
			r.disconnectMonitorLocked(ctx, id, false)
			return nil
		}
		mc.entry.Status = models.ClientStatusDisconnecting
		return nil
	}
	if m, ok := r.managers[id]; ok {
		common.SafeGo(r.logger, "manager-disconnect", func() {
			_ = m.conn.Disconnect(ctx, false)
		})
		delete(r.managers, id)
		return nil
	}
	return models.NewError(models.ErrKindClientNotFound, "client %s is not connected", id)
}

// ForceDisconnect closes a client connection immediately, regardless of any
// in-progress work.
func (r *Registry) ForceDisconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.load[id]; ok {
		r.disconnectLoadLocked(ctx, id, true)
		return nil
	}
	if _, ok := r.monitors[id]; ok {
		r.disconnectMonitorLocked(ctx, id, true)
		return nil
	}
	if m, ok := r.managers[id]; ok {
		common.SafeGo(r.logger, "manager-disconnect", func() {
			_ = m.conn.Disconnect(ctx, true)
		})
		delete(r.managers, id)
		return nil
	}
	return models.NewError(models.ErrKindClientNotFound, "client %s is not connected", id)
}

// Connection returns the transport for a load or monitor client.
func (r *Registry) Connection(id string) (interfaces.ClientConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lc, ok := r.load[id]; ok {
		return lc.conn, true
	}
	if mc, ok := r.monitors[id]; ok {
		return mc.conn, true
	}
	return nil, false
}

// ManagerConnection returns the transport for a client manager.
func (r *Registry) ManagerConnection(id string) (interfaces.ClientManagerConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[id]
	if !ok {
		return nil, false
	}
	return m.conn, true
}

// UpdateManager applies fn to a manager entry under the registry lock.
func (r *Registry) UpdateManager(id string, fn func(*models.ClientManagerEntry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[id]
	if !ok {
		return false
	}
	fn(&m.entry)
	return true
}

// Counts returns the size of each table.
func (r *Registry) Counts() (load, monitors, managers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.load), len(r.monitors), len(r.managers)
}

func (r *Registry) idInUseLocked(id string) bool {
	if _, ok := r.load[id]; ok {
		return true
	}
	if _, ok := r.monitors[id]; ok {
		return true
	}
	_, ok := r.managers[id]
	return ok
}

func (r *Registry) disconnectLoadLocked(ctx context.Context, id string, force bool) {
	lc := r.load[id]
	delete(r.load, id)
	common.SafeGo(r.logger, "client-disconnect", func() {
		_ = lc.conn.Disconnect(ctx, force)
	})
	r.publish(interfaces.EventClientDisconnected, lc.entry.Clone())
}

func (r *Registry) disconnectMonitorLocked(ctx context.Context, id string, force bool) {
	mc := r.monitors[id]
	delete(r.monitors, id)
	common.SafeGo(r.logger, "client-disconnect", func() {
		_ = mc.conn.Disconnect(ctx, force)
	})
	r.publish(interfaces.EventClientDisconnected, mc.entry.Clone())
}

func (r *Registry) publish(eventType interfaces.EventType, payload interface{}) {
	if r.events == nil {
		return
	}
	_ = r.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload})
}
