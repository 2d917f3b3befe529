package logger

import (
	"fmt"

	phlog "github.com/oarkflow/log"
)

// Phuslu emits through the zero-allocation phuslu-style log package.
type Phuslu struct{}

func NewPhuslu() *Phuslu { return &Phuslu{} }

func (*Phuslu) Debug(msg string, keyvals ...any) { emit(phlog.Debug(), msg, keyvals) }
func (*Phuslu) Info(msg string, keyvals ...any)  { emit(phlog.Info(), msg, keyvals) }
func (*Phuslu) Error(msg string, keyvals ...any) { emit(phlog.Error(), msg, keyvals) }

func emit(e *phlog.Entry, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		k := fmt.Sprint(keyvals[i])
		switch v := keyvals[i+1].(type) {
		case string:
			e = e.Str(k, v)
		case bool:
			e = e.Bool(k, v)
		case int:
			e = e.Int(k, v)
		case error:
			e = e.Err(v)
		default:
			e = e.Any(k, v)
		}
	}
	e.Msg(msg)
}
