// Package logging provides structured logging for the coordinator and
// agent runtimes.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation support for debugging and post-hoc analysis of a
// coordinator run spread across many independent agent processes.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (component, agent id, task id)
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The [Logger] type
// uses Go's slog internally which is designed for concurrent access. Child
// loggers created via With* methods share the underlying writer safely.
//
// # Basic Usage
//
// Create a logger for a coordinator directory:
//
//	logger, err := logging.NewLogger("/path/to/.agent-coordinator", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Debug("detailed info", "key", "value")
//	logger.Info("operation completed", "duration_ms", 150)
//	logger.Warn("potential issue", "threshold", 100)
//	logger.Error("operation failed", "error", err.Error())
//
// # Context Propagation
//
// Create child loggers with persistent context attributes:
//
//	brokerLogger := logger.WithComponent("broker")
//	agentLogger := brokerLogger.WithAgent("agent-def456")
//	taskLogger := agentLogger.WithTask("task-123")
//
//	taskLogger.Info("task completed")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"task completed","component":"broker","agent_id":"agent-def456","task_id":"task-123"}
//
// # Testing
//
// For testing, use [NopLogger] to discard all log output:
//
//	func TestSomething(t *testing.T) {
//	    logger := logging.NopLogger()
//	}
//
// # Log Levels
//
// The package defines four log levels:
//
//   - [LevelDebug]: Detailed information for debugging
//   - [LevelInfo]: General operational information (default)
//   - [LevelWarn]: Warning conditions that may need attention
//   - [LevelError]: Error conditions that affect functionality
//
// Use [ValidLevels] to get the list of valid level strings, and [ParseLevel]
// to normalize user-provided level strings.
package logging
