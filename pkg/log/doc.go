/*
Package log provides structured logging for Vigil using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level.

# Usage

Initialize once at startup:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Then log through the global logger or a child logger:

	logger := log.WithComponent("scheduler")
	logger.Info().Str("task_id", taskID).Msg("schedule fired")

Scan workers log through log.WithScan(taskID, reportID) so every line
of a run carries both ids. The remaining helpers (WithTaskID,
WithReportID, WithScannerID) exist for call sites that only know one
of them.

Console output (the default) is for interactive use; the daemon runs
with JSONOutput set so log collectors get one object per line.
*/
package log
