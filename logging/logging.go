package logging

import (
	"log/slog"
	"os"
)

// SubSystem tags every log line with the component that produced it.
type SubSystem string

const (
	System       SubSystem = "system"
	Config       SubSystem = "config"
	Scheduler    SubSystem = "scheduler"
	Coordination SubSystem = "coordination"
	Verification SubSystem = "verification"
	Scoring      SubSystem = "scoring"
	Publication  SubSystem = "publication"
	State        SubSystem = "state"
	Ledger       SubSystem = "ledger"
	Server       SubSystem = "server"
)

func setNoopLogger() {
	var logLevel slog.LevelVar
	// Set the level above all normal levels
	logLevel.Set(slog.Level(100))

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &logLevel,
	}))
	slog.SetDefault(logger)
}

// WithNoopLogger runs action with all logging suppressed, then restores the
// previous default logger. Used by one-shot subcommands that print JSON.
func WithNoopLogger(action func() (any, error)) (any, error) {
	currentLogger := slog.Default()
	defer slog.SetDefault(currentLogger)

	setNoopLogger()
	return action()
}

func Warn(msg string, subSystem SubSystem, keyvals ...interface{}) {
	withSubsystem := append([]interface{}{"subsystem", subSystem}, keyvals...)
	slog.Warn(msg, withSubsystem...)
}

func Info(msg string, subSystem SubSystem, keyvals ...interface{}) {
	withSubsystem := append([]interface{}{"subsystem", subSystem}, keyvals...)
	slog.Info(msg, withSubsystem...)
}

func Error(msg string, subSystem SubSystem, keyvals ...interface{}) {
	withSubsystem := append([]interface{}{"subsystem", subSystem}, keyvals...)
	slog.Error(msg, withSubsystem...)
}

func Debug(msg string, subSystem SubSystem, keyvals ...interface{}) {
	withSubsystem := append([]interface{}{"subsystem", subSystem}, keyvals...)
	slog.Debug(msg, withSubsystem...)
}
