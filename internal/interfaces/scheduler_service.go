package interfaces

// SchedulerService manages cron-based scheduling of the periodic sweep
// that re-merges current documents from their history sets (§5 "an external periodic sweep (out of scope) may also
// repair").
type SchedulerService interface {
	// Start the scheduler with a cron expression.
	Start(cronExpr string) error

	// Stop the scheduler.
	Stop() error

	// TriggerNow manually runs one sweep immediately.
	TriggerNow() error

	// IsRunning returns true if the scheduler is active.
	IsRunning() bool
}
