package logger

// Logger is the minimal structured logging interface used across authkit.
// Implementations accept alternating key/value pairs as variadic arguments,
// which keeps the interface small and easy to mock in tests.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// Null discards everything. It is the default for services constructed
// without an explicit logger.
type Null struct{}

func NewNull() *Null { return &Null{} }

func (*Null) Debug(msg string, keyvals ...any) {}
func (*Null) Info(msg string, keyvals ...any)  {}
func (*Null) Error(msg string, keyvals ...any) {}
