package pressure

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/logger"
)

// Monitor polls the kernel PSI file (/proc/pressure/memory) and emits a
// level whenever the classification changes. Stall percentages come from
// the avg10 column of the "some" line.
type Monitor struct {
	path     string
	interval time.Duration
	warning  float64
	critical float64
	levels   chan Level
	logger   *logger.Logger
}

// NewMonitor creates a PSI poller from configuration
func NewMonitor(cfg config.PressureConfig, log *logger.Logger) *Monitor {
	return &Monitor{
		path:     cfg.ProcPath,
		interval: cfg.PollInterval,
		warning:  cfg.WarningThreshold,
		critical: cfg.CriticalThreshold,
		levels:   make(chan Level, 4),
		logger:   log,
	}
}

// Levels returns the subscription channel
func (m *Monitor) Levels() <-chan Level {
	return m.levels
}

// Run polls until the context is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	last := Normal
	failed := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := os.ReadFile(m.path)
			if err != nil {
				if !failed {
					m.logger.Warn("Pressure file unreadable, monitoring suspended",
						zap.String("path", m.path),
						zap.Error(err),
					)
					failed = true
				}
				continue
			}
			failed = false

			avg10, err := parsePSI(data)
			if err != nil {
				m.logger.Warn("Failed to parse pressure file", zap.Error(err))
				continue
			}

			level := m.classify(avg10)
			if level == last {
				continue
			}
			last = level

			select {
			case m.levels <- level:
			default:
				m.logger.Warn("Pressure channel full, dropping level",
					zap.String("level", level.String()))
			}
		}
	}
}

func (m *Monitor) classify(avg10 float64) Level {
	switch {
	case avg10 >= m.critical:
		return Critical
	case avg10 >= m.warning:
		return Warning
	}
	return Normal
}

// parsePSI extracts the avg10 value from the "some" line:
//
//	some avg10=1.52 avg60=0.51 avg300=0.11 total=12345
func parsePSI(data []byte) (float64, error) {
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != "some" {
			continue
		}
		for _, field := range fields[1:] {
			if !strings.HasPrefix(field, "avg10=") {
				continue
			}
			value, err := strconv.ParseFloat(strings.TrimPrefix(field, "avg10="), 64)
			if err != nil {
				return 0, fmt.Errorf("bad avg10 value: %w", err)
			}
			return value, nil
		}
	}
	return 0, fmt.Errorf("no some/avg10 entry found")
}
