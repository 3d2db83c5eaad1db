package logging

import (
	"io"
	"os"
	"sync"
	"time"
)

// Logger is the local diagnostic channel. Buffers and sinks report delivery
// failures here instead of returning them to the caller.
type Logger interface {
	Debug(component, action, msg string)
	Info(component, action, msg string)
	Warn(component, action, msg string)
	Error(component, action, msg string)
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithTransactionID(id string) Logger
}

type StandardLogger struct {
	mu            *sync.Mutex
	out           io.Writer
	formatter     Formatter
	level         LogLevel
	fields        Fields
	transactionID string
	sanitize      bool
	errMsg        string
	errType       string
}

type LoggerConfig struct {
	Output    io.Writer
	Formatter Formatter
	Level     LogLevel
	Sanitize  bool
}

func NewLogger(cfg LoggerConfig) *StandardLogger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	formatter := cfg.Formatter
	if formatter == nil {
		formatter = NewHumanFormatter(out)
	}

	return &StandardLogger{
		mu:        &sync.Mutex{},
		out:       out,
		formatter: formatter,
		level:     cfg.Level,
		fields:    make(Fields),
		sanitize:  cfg.Sanitize,
	}
}

func (l *StandardLogger) log(level LogLevel, component, action, msg string) {
	if !level.ShouldLog(l.level) {
		return
	}

	fields := l.fields
	if l.sanitize {
		fields = fields.Sanitize()
	}

	line := Line{
		Timestamp:     time.Now(),
		Level:         level,
		Component:     component,
		Action:        action,
		Message:       msg,
		Fields:        fields,
		Error:         l.errMsg,
		ErrorType:     l.errType,
		TransactionID: l.transactionID,
	}

	data, err := l.formatter.Format(line)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(data)
}

func (l *StandardLogger) Debug(component, action, msg string) {
	l.log(DEBUG, component, action, msg)
}

func (l *StandardLogger) Info(component, action, msg string) {
	l.log(INFO, component, action, msg)
}

func (l *StandardLogger) Warn(component, action, msg string) {
	l.log(WARN, component, action, msg)
}

func (l *StandardLogger) Error(component, action, msg string) {
	l.log(ERROR, component, action, msg)
}

func (l *StandardLogger) clone() *StandardLogger {
	c := *l
	return &c
}

func (l *StandardLogger) WithFields(fields Fields) Logger {
	c := l.clone()
	c.fields = make(Fields, len(l.fields)+len(fields)).Merge(l.fields).Merge(fields)
	return c
}

func (l *StandardLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	c := l.clone()
	c.errMsg = err.Error()
	c.errType = ErrorType(err)
	return c
}

func (l *StandardLogger) WithTransactionID(id string) Logger {
	c := l.clone()
	c.transactionID = id
	return c
}

type NopLogger struct{}

func (NopLogger) Debug(component, action, msg string)      {}
func (NopLogger) Info(component, action, msg string)       {}
func (NopLogger) Warn(component, action, msg string)       {}
func (NopLogger) Error(component, action, msg string)      {}
func (n NopLogger) WithFields(fields Fields) Logger        { return n }
func (n NopLogger) WithError(err error) Logger             { return n }
func (n NopLogger) WithTransactionID(id string) Logger     { return n }
