package interfaces

import (
	"context"

	"github.com/ternarybob/onero/internal/models"
)

// ClientConnection abstracts the transport to one connected load or monitor
// client. Implementations deliver commands over the wire; the scheduler never
// touches sockets directly.
type ClientConnection interface {
	// ID returns the client identifier presented at registration
	ID() string

	// Kind returns whether this is a load or monitor client
	Kind() models.ClientKind

	// Address returns the remote network address of the connection
	Address() string

	// StartJob instructs the client to begin executing the job
	StartJob(ctx context.Context, job *models.Job, threads int) error

	// StopJob instructs the client to stop the job and report final statistics
	StopJob(ctx context.Context, jobID string, reason string) error

	// Disconnect asks the client to close the connection after finishing its
	// current work. force closes immediately.
	Disconnect(ctx context.Context, force bool) error
}

// ClientManagerConnection abstracts the transport to a client manager agent.
type ClientManagerConnection interface {
	// ID returns the manager identifier presented at registration
	ID() string

	// Address returns the remote network address of the connection
	Address() string

	// StartClients asks the manager to launch count additional load clients
	StartClients(ctx context.Context, count int) error

	// StopClients asks the manager to stop count of its running load clients
	StopClients(ctx context.Context, count int) error

	// Disconnect closes the manager connection
	Disconnect(ctx context.Context, force bool) error
}
