package tracker

// Logger is the structured logging surface used by tracker components.
// Args are slog-style alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// componentLogger prepends a component=<name> pair to every entry.
type componentLogger struct {
	next Logger
	name string
}

// WithComponent tags every entry written through l with the component name.
func WithComponent(l Logger, name string) Logger {
	if l == nil {
		l = NewNopLogger()
	}
	return &componentLogger{next: l, name: name}
}

func (c *componentLogger) kv(args []any) []any {
	return append([]any{"component", c.name}, args...)
}

func (c *componentLogger) Debug(msg string, args ...any) { c.next.Debug(msg, c.kv(args)...) }
func (c *componentLogger) Info(msg string, args ...any)  { c.next.Info(msg, c.kv(args)...) }
func (c *componentLogger) Warn(msg string, args ...any)  { c.next.Warn(msg, c.kv(args)...) }
func (c *componentLogger) Error(msg string, args ...any) { c.next.Error(msg, c.kv(args)...) }
