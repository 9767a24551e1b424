// Package reporter defines the narrow capability interface the engine
// uses to surface per-package status to the caller (spec.md §7, §9:
// "Dynamic dispatch ... preferred over inheritance; each is a narrow
// capability set"). Generalized from the teacher's formatter interface
// shape (internal/formatter) into a logging-shaped capability instead of
// an output-format one, since pretty-printing itself is out of scope.
package reporter

import "go.uber.org/zap"

// Reporter is the capability the engine calls to narrate a run. A zap
// backend is the default; tests use Nop.
type Reporter interface {
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is a structured key-value pair, reusing zap's Field so backends
// never have to re-box values.
type Field = zap.Field

// String, Int, Err mirror the zap field constructors most call sites need,
// so engine code importing reporter doesn't also need zap directly.
func String(key, value string) Field { return zap.String(key, value) }
func Int(key string, value int) Field { return zap.Int(key, value) }
func Err(err error) Field             { return zap.Error(err) }

// ZapReporter adapts a *zap.Logger to Reporter.
type ZapReporter struct {
	Logger *zap.Logger
}

// New wraps logger as a Reporter; a nil logger is replaced by a no-op one.
func New(logger *zap.Logger) ZapReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ZapReporter{Logger: logger}
}

func (r ZapReporter) Info(msg string, fields ...Field)  { r.Logger.Info(msg, fields...) }
func (r ZapReporter) Warn(msg string, fields ...Field)  { r.Logger.Warn(msg, fields...) }
func (r ZapReporter) Error(msg string, fields ...Field) { r.Logger.Error(msg, fields...) }

// Nop is a Reporter that discards everything, used by tests and by
// collaborators that don't care to narrate.
var Nop Reporter = New(zap.NewNop())
