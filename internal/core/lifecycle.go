package core

import "context"

// Starter is implemented by components that start background work
// (goroutines, listeners, connections).
type Starter interface {
	Start() error
}

// Stopper is implemented by components that need to clean up resources.
// Called during shutdown in reverse order of Start().
type Stopper interface {
	Stop(ctx context.Context) error
}
