// Package provenance derives which frontend module or component produced a
// log entry by scanning captured stack text.
//
// Stack text is newline separated, one frame per line. A frame that names a
// frontend source file looks like
//
//	at https://host/modules/c/orderForm/orderForm.js:12:3 submit (eval)
//
// and yields Kind FrontendModule, Name "orderForm", Function "submit".
package provenance

import (
	"path/filepath"
	"runtime"
	"strings"
)

type Kind string

const (
	FrontendModule    Kind = "FrontendModule"
	FrontendComponent Kind = "FrontendComponent"
)

type Provenance struct {
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	Function string `json:"function"`
}

type Result struct {
	// Provenance is nil when no frame matched.
	Provenance *Provenance
	// Stack is the input with internal frames removed.
	Stack string
	// Parsed is false when the input was empty and nothing was derived.
	Parsed bool
}

type Rules struct {
	ModuleMarker    string
	ComponentMarker string
	// Internal holds substrings identifying the logging machinery's own
	// frames. Matching lines are dropped before anything else happens.
	Internal []string
}

// DefaultRules treat this repository's entry, buffer and provenance sources
// as internal so the logging layer never reports itself as the caller.
func DefaultRules() Rules {
	return Rules{
		ModuleMarker:    "/modules/",
		ComponentMarker: "/components/",
		Internal:        internalDirs(),
	}
}

func internalDirs() []string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return nil
	}
	root := filepath.Dir(filepath.Dir(file))
	dirs := make([]string, 0, 3)
	for _, pkg := range []string{"provenance", "entry", "buffer"} {
		dirs = append(dirs, filepath.ToSlash(filepath.Join(root, pkg))+"/")
	}
	return dirs
}

func (r Rules) Parse(stack string) Result {
	if stack == "" {
		return Result{}
	}

	lines := strings.Split(stack, "\n")
	kept := make([]string, 0, len(lines))
	var prov *Provenance

	for _, line := range lines {
		if r.isInternal(line) {
			continue
		}
		kept = append(kept, line)

		if prov != nil {
			continue
		}
		switch {
		case r.ModuleMarker != "" && strings.Contains(line, r.ModuleMarker):
			prov = parseFrame(line, r.ModuleMarker, FrontendModule)
		case r.ComponentMarker != "" && strings.Contains(line, r.ComponentMarker):
			prov = parseFrame(line, r.ComponentMarker, FrontendComponent)
		}
	}

	return Result{
		Provenance: prov,
		Stack:      strings.Join(kept, "\n"),
		Parsed:     true,
	}
}

func (r Rules) isInternal(line string) bool {
	for _, m := range r.Internal {
		if m != "" && strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// parseFrame slices one frame. Frames without the expected delimiters give
// best-effort substrings rather than errors.
func parseFrame(line, marker string, kind Kind) *Provenance {
	p := &Provenance{Kind: kind}

	start := strings.Index(line, marker) + len(marker)
	path := line[start:]
	// location token ends at the first space after the marker
	loc := path
	rest := ""
	if i := strings.IndexByte(path, ' '); i >= 0 {
		loc, rest = path[:i], path[i+1:]
	}

	file := loc
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	// drop :line:col, then the extension
	if i := strings.IndexByte(file, ':'); i >= 0 {
		file = file[:i]
	}
	if i := strings.LastIndexByte(file, '.'); i >= 0 {
		file = file[:i]
	}
	p.Name = file

	fn := rest
	if i := strings.LastIndex(fn, " ("); i >= 0 {
		fn = fn[:i]
	}
	p.Function = strings.TrimSpace(fn)

	return p
}
