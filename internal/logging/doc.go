// Package logging provides slog loggers with per-module levels.
//
// Each module gets its own logger tagged with a "module" attribute:
//
//	logger := logging.GetLogger("pipeline")
//	logger.Info("Graph built", "camera", 0, "components", 6)
//
// Initialize applies the global level, the output format (text or json) and
// per-module overrides. Loggers obtained before Initialize are updated in
// place, so packages may grab their logger at construction time.
//
// Records go to stdout when it is attached, to the systemd journal when
// journald is reachable, and always to an in-memory History that backs the
// /api/logs endpoint. SetLevel changes a module's level at runtime.
//
// In the config file, keys under [logging] other than level and format are
// module overrides:
//
//	[logging]
//	level = "info"
//	format = "text"
//	pipeline = "debug"
//	sim = "warn"
//
// Journal entries carry SYSLOG_IDENTIFIER=camgraph and one upper-case field
// per attribute:
//
//	journalctl -t camgraph MODULE=capture CAMERA=1
package logging
