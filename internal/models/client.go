// -----------------------------------------------------------------------
// Client - Registry entries for connected workers
// -----------------------------------------------------------------------

package models

import "time"

// ClientKind distinguishes the three worker populations.
type ClientKind string

const (
	ClientKindLoad    ClientKind = "load"
	ClientKindMonitor ClientKind = "monitor"
	ClientKindManager ClientKind = "manager"
)

// ClientStatus tracks what a connected client is currently doing.
type ClientStatus string

const (
	ClientStatusIdle          ClientStatus = "idle"
	ClientStatusAssigned      ClientStatus = "assigned"
	ClientStatusRunning       ClientStatus = "running"
	ClientStatusReporting     ClientStatus = "reporting"
	ClientStatusDisconnecting ClientStatus = "disconnecting"
)

// ClientEntry is a registry record for a connected load or monitor client.
type ClientEntry struct {
	ID            string       `json:"id"`
	Kind          ClientKind   `json:"kind"`
	Address       string       `json:"address,omitempty"`
	Status        ClientStatus `json:"status"`
	EstablishedAt time.Time    `json:"established_at"`
	IdleSince     time.Time    `json:"idle_since"`

	// Load clients run at most one job at a time
	JobID string `json:"job_id,omitempty"`

	// Monitor clients may observe several jobs concurrently
	MonitoredJobIDs map[string]struct{} `json:"-"`
}

// IsAvailable reports whether a load client can accept a job assignment.
func (c *ClientEntry) IsAvailable() bool {
	return c.Status == ClientStatusIdle && c.JobID == ""
}

// Clone creates a copy of the entry.
func (c *ClientEntry) Clone() *ClientEntry {
	clone := *c
	if c.MonitoredJobIDs != nil {
		clone.MonitoredJobIDs = make(map[string]struct{}, len(c.MonitoredJobIDs))
		for k := range c.MonitoredJobIDs {
			clone.MonitoredJobIDs[k] = struct{}{}
		}
	}
	return &clone
}

// ClientManagerEntry is a registry record for a connected client manager, the
// agent on a worker host that can launch additional load clients on demand.
type ClientManagerEntry struct {
	ID             string    `json:"id"`
	Address        string    `json:"address,omitempty"`
	EstablishedAt  time.Time `json:"established_at"`
	StartedClients int       `json:"started_clients"`
	MaxClients     int       `json:"max_clients"` // 0 = unlimited
	Busy           bool      `json:"busy"`
}

// AvailableCapacity returns how many more clients this manager can start.
// Unlimited managers report a large positive capacity.
func (m *ClientManagerEntry) AvailableCapacity() int {
	if m.MaxClients <= 0 {
		return int(^uint(0) >> 1) // effectively unbounded
	}
	n := m.MaxClients - m.StartedClients
	if n < 0 {
		return 0
	}
	return n
}

// Clone creates a copy of the entry.
func (m *ClientManagerEntry) Clone() *ClientManagerEntry {
	clone := *m
	return &clone
}
