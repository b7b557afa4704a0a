package pressure

import "fmt"

// Level is the memory pressure reading delivered to the history
type Level int

const (
	Normal Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	}
	return "unknown"
}

// ParseLevel converts the wire form used by the control API
func ParseLevel(s string) (Level, error) {
	switch s {
	case "normal":
		return Normal, nil
	case "warning":
		return Warning, nil
	case "critical":
		return Critical, nil
	}
	return Normal, fmt.Errorf("unknown pressure level: %s", s)
}

// Source delivers pressure levels asynchronously. The process takes exactly
// one subscription for its lifetime.
type Source interface {
	Levels() <-chan Level
}
