package provenance

import (
	"fmt"
	"runtime"
	"strings"
)

// StackSource returns the stack text to parse for a new entry.
type StackSource func() string

const maxFrames = 64

// Capture renders the calling goroutine's stack one frame per line, in the
// same shape Parse consumes. skip counts frames above Capture's caller.
func Capture(skip int) string {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		f, more := frames.Next()
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "at %s:%d %s (+0x%x)", f.File, f.Line, f.Function, f.PC-f.Entry)
		if !more {
			break
		}
	}
	return b.String()
}

// CaptureSource is the default StackSource.
func CaptureSource() string {
	return Capture(1)
}
