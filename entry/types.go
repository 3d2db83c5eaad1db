package entry

type Category string

const (
	CategoryError   Category = "Error"
	CategoryWarning Category = "Warning"
	CategoryEvent   Category = "Event"
	CategoryDebug   Category = "Debug"
)

var Categories = []Category{CategoryError, CategoryWarning, CategoryEvent, CategoryDebug}

type Level string

const (
	LevelError   Level = "ERROR"
	LevelWarning Level = "WARNING"
	LevelInfo    Level = "INFO"
	LevelDebug   Level = "DEBUG"
	LevelFine    Level = "FINE"
	LevelFiner   Level = "FINER"
	LevelFinest  Level = "FINEST"
)

var Levels = []Level{LevelError, LevelWarning, LevelInfo, LevelDebug, LevelFine, LevelFiner, LevelFinest}

// Common values for Entry.Type. Callers may use any string.
const (
	TypeBackend     = "Backend"
	TypeFrontend    = "Frontend"
	TypeIntegration = "Integration"
	TypePerformance = "Performance"
)

func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

func ParseLevel(s string) (Level, bool) {
	for _, l := range Levels {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}
