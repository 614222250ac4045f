// -----------------------------------------------------------------------
// Manager Controller - Starting and stopping clients via manager agents
// -----------------------------------------------------------------------

package registry

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/models"
	"golang.org/x/time/rate"
)

// ManagerController issues start/stop commands to client manager agents,
// enforcing per-manager caps and pacing outbound requests so a burst of
// connect operations cannot flood a worker host.
type ManagerController struct {
	registry *Registry
	logger   arbor.ILogger
	limiter  *rate.Limiter
}

// NewManagerController creates a controller over the given registry. Start
// commands are paced at startsPerSecond across the whole fleet; zero disables
// pacing.
func NewManagerController(registry *Registry, logger arbor.ILogger, startsPerSecond float64) *ManagerController {
	limit := rate.Inf
	if startsPerSecond > 0 {
		limit = rate.Limit(startsPerSecond)
	}
	return &ManagerController{
		registry: registry,
		logger:   logger,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// StartClients asks one manager to launch count additional load clients. The
// started counter is bumped immediately; the clients themselves arrive later
// as ordinary registrations.
func (c *ManagerController) StartClients(ctx context.Context, managerID string, count int) error {
	if count <= 0 {
		return models.NewError(models.ErrKindValidationFailed, "client count must be positive, got %d", count)
	}

	entry, ok := c.registry.Manager(managerID)
	if !ok {
		return models.NewError(models.ErrKindClientNotFound, "manager %s is not connected", managerID)
	}
	if entry.Busy {
		return models.NewError(models.ErrKindManagerBusy, "manager %s has a start/stop in progress", managerID)
	}
	if entry.AvailableCapacity() < count {
		return models.NewError(models.ErrKindCapacityExceeded,
			"manager %s can start %d more clients, %d requested", managerID, entry.AvailableCapacity(), count)
	}

	conn, ok := c.registry.ManagerConnection(managerID)
	if !ok {
		return models.NewError(models.ErrKindClientNotFound, "manager %s is not connected", managerID)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.registry.UpdateManager(managerID, func(m *models.ClientManagerEntry) { m.Busy = true })
	defer c.registry.UpdateManager(managerID, func(m *models.ClientManagerEntry) { m.Busy = false })

	if err := conn.StartClients(ctx, count); err != nil {
		return models.WrapError(models.ErrKindManagerUnreachable, err,
			"manager %s did not accept start request", managerID)
	}

	c.registry.UpdateManager(managerID, func(m *models.ClientManagerEntry) {
		m.StartedClients += count
	})
	c.logger.Info().Str("manager_id", managerID).Int("count", count).Msg("Requested client start")
	return nil
}

// StopClients asks one manager to stop count of its running load clients. A
// count of -1 stops every client the manager started.
func (c *ManagerController) StopClients(ctx context.Context, managerID string, count int) error {
	if count <= 0 && count != -1 {
		return models.NewError(models.ErrKindValidationFailed, "client count must be positive or -1 for all, got %d", count)
	}

	entry, ok := c.registry.Manager(managerID)
	if !ok {
		return models.NewError(models.ErrKindClientNotFound, "manager %s is not connected", managerID)
	}
	if entry.Busy {
		return models.NewError(models.ErrKindManagerBusy, "manager %s has a start/stop in progress", managerID)
	}
	if count == -1 {
		count = entry.StartedClients
	}
	if count == 0 {
		return nil
	}
	if count > entry.StartedClients {
		return models.NewError(models.ErrKindValidationFailed,
			"manager %s started %d clients, cannot stop %d", managerID, entry.StartedClients, count)
	}

	conn, ok := c.registry.ManagerConnection(managerID)
	if !ok {
		return models.NewError(models.ErrKindClientNotFound, "manager %s is not connected", managerID)
	}

	c.registry.UpdateManager(managerID, func(m *models.ClientManagerEntry) { m.Busy = true })
	defer c.registry.UpdateManager(managerID, func(m *models.ClientManagerEntry) { m.Busy = false })

	if err := conn.StopClients(ctx, count); err != nil {
		return models.WrapError(models.ErrKindManagerUnreachable, err,
			"manager %s did not accept stop request", managerID)
	}

	c.registry.UpdateManager(managerID, func(m *models.ClientManagerEntry) {
		m.StartedClients -= count
		if m.StartedClients < 0 {
			m.StartedClients = 0
		}
	})
	c.logger.Info().Str("manager_id", managerID).Int("count", count).Msg("Requested client stop")
	return nil
}

// ConnectClients spreads a fleet-wide request for new load clients across all
// connected managers and issues the start commands. The returned plan maps
// manager ID to the number actually requested from it.
func (c *ManagerController) ConnectClients(ctx context.Context, requested int) (map[string]int, error) {
	if requested <= 0 {
		return nil, models.NewError(models.ErrKindValidationFailed, "client count must be positive, got %d", requested)
	}

	plan := PlanConnect(c.registry.ListManagers(), requested)
	if PlanTotal(plan) == 0 {
		return nil, models.NewError(models.ErrKindCapacityExceeded,
			"no manager capacity for %d new clients", requested)
	}

	for managerID, count := range plan {
		if err := c.StartClients(ctx, managerID, count); err != nil {
			return plan, err
		}
	}

	if short := requested - PlanTotal(plan); short > 0 {
		c.logger.Warn().Int("requested", requested).Int("short", short).Msg("Fleet capacity below requested client count")
	}
	return plan, nil
}
