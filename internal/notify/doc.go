// Package notify connects a running discovery engine to the rest of
// Gray Logic.
//
//   - MQTTPublisher is an engine listener that publishes discovered
//     devices as retained messages and streams every event.
//   - ScanCommands subscribes to the scan command topic and opens scan
//     windows on request.
//   - EventRecorder is an engine listener that writes events to InfluxDB.
//   - StatsReporter periodically samples engine counters into InfluxDB
//     and publishes a retained health message.
//
// Every sink is behind a small interface so the engine side can be
// tested without a broker or a time-series database.
package notify

// Logger is the logging interface used throughout the package.
// Compatible with slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func orNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}
