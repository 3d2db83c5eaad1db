package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

type Formatter interface {
	Format(line Line) ([]byte, error)
}

// NewFormatter maps a config value ("json" or "human") onto a Formatter.
func NewFormatter(name string, w io.Writer) Formatter {
	if strings.EqualFold(name, "json") {
		return &JSONFormatter{}
	}
	return NewHumanFormatter(w)
}

type JSONFormatter struct{}

func (f *JSONFormatter) Format(line Line) ([]byte, error) {
	output := map[string]interface{}{
		"timestamp": line.Timestamp.Format(time.RFC3339),
		"level":     line.Level.String(),
		"component": line.Component,
		"action":    line.Action,
		"message":   line.Message,
	}

	if len(line.Fields) > 0 {
		output["fields"] = line.Fields
	}
	if line.Error != "" {
		output["error"] = line.Error
	}
	if line.ErrorType != "" {
		output["error_type"] = line.ErrorType
	}
	if line.TransactionID != "" {
		output["transaction_id"] = line.TransactionID
	}

	data, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return append(data, '\n'), nil
}

type HumanFormatter struct {
	colorEnabled bool
}

func NewHumanFormatter(w io.Writer) *HumanFormatter {
	colorEnabled := false
	if f, ok := w.(*os.File); ok {
		colorEnabled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &HumanFormatter{colorEnabled: colorEnabled}
}

func (f *HumanFormatter) Format(line Line) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s [%s] %s: %s",
		line.Timestamp.Format("15:04:05"), f.colorLevel(line.Level),
		line.Component, line.Action, line.Message)

	if len(line.Fields) > 0 {
		b.WriteString(" " + formatFields(line.Fields))
	}
	if line.Error != "" {
		fmt.Fprintf(&b, " error=%s", line.Error)
	}
	if line.ErrorType != "" {
		fmt.Fprintf(&b, " error_type=%s", line.ErrorType)
	}
	if line.TransactionID != "" {
		fmt.Fprintf(&b, " transaction_id=%s", line.TransactionID)
	}
	b.WriteByte('\n')

	return []byte(b.String()), nil
}

func (f *HumanFormatter) colorLevel(l LogLevel) string {
	name := l.String()
	if !f.colorEnabled {
		return fmt.Sprintf("%-5s", name)
	}

	var color string
	switch l {
	case DEBUG:
		color = "\033[36m" // cyan
	case INFO:
		color = "\033[32m" // green
	case WARN:
		color = "\033[33m" // yellow
	case ERROR:
		color = "\033[31m" // red
	}
	return fmt.Sprintf("%s%-5s\033[0m", color, name)
}

// formatFields sorts keys so the human output is stable between runs.
func formatFields(f Fields) string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, f[k])
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
