package workers

// Worker is a background job owned by the process lifetime.
type Worker interface {
	// Start schedules the worker and returns without blocking.
	Start() error

	// Stop waits for a running pass to finish.
	Stop()

	// Name identifies the worker in logs.
	Name() string
}
