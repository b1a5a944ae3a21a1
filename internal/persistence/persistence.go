package persistence

import "errors"

// Persistence bundles the run and event stores so the instance
// can depend on a single abstraction.
type Persistence struct {
	Runs   RunStore
	Events EventStore

	// Close releases the backend connection, if the bundle owns one.
	Close func() error
}

// Shutdown calls Close when set.
func (p *Persistence) Shutdown() error {
	if p == nil || p.Close == nil {
		return nil
	}
	return p.Close()
}

// NewInMemory returns a Persistence backed by process memory.
func NewInMemory() *Persistence {
	return &Persistence{
		Runs:   NewInMemoryStore(),
		Events: NewInMemoryEventStore(),
	}
}

var errNilRun = errors.New("persistence: nil run")
