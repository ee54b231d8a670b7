package lifecycle

import "context"

// Component is a unit the Supervisor starts and stops. Name must be unique
// within one Supervisor.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Reloadable components are notified by Supervisor.OnConfigChanged.
type Reloadable interface {
	Reload(ctx context.Context) error
}

// StatsProvider components contribute a snapshot to Supervisor.GetStatus.
type StatsProvider interface {
	Stats(ctx context.Context) (any, error)
}
