package capture

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/history"
	"github.com/clipvault/clipvault/internal/logger"
)

// ReadFunc reads the current system clipboard text
type ReadFunc func() (string, error)

// Recorder receives captured clipboard text
type Recorder interface {
	AddText(text, source string) (history.ItemView, error)
}

// Watcher polls the system clipboard and records new text. Consecutive
// duplicates are skipped; a token bucket bounds how fast rapid clipboard
// churn can flood the history. Image capture goes through the API, the
// system clipboard bridge is text-only.
type Watcher struct {
	cfg      config.CaptureConfig
	recorder Recorder
	read     ReadFunc
	limiter  *rate.Limiter
	logger   *logger.Logger

	last   string
	failed bool
}

// NewWatcher creates a clipboard watcher. The read function is injected so
// platforms and tests can supply their own clipboard access.
func NewWatcher(cfg config.CaptureConfig, rec Recorder, read ReadFunc, log *logger.Logger) *Watcher {
	perSecond := cfg.MaxPerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return &Watcher{
		cfg:      cfg,
		recorder: rec,
		read:     read,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:   log,
	}
}

// Run polls until the context is cancelled
func (w *Watcher) Run(ctx context.Context) {
	if !w.cfg.Enabled {
		return
	}
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("Starting clipboard watcher",
		zap.Duration("poll_interval", interval),
		zap.Float64("max_per_second", float64(w.limiter.Limit())),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Clipboard watcher stopped")
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll reads the clipboard once. Clipboard access failing is expected on
// headless systems; it is logged once and capture resumes when reads
// recover. Rate-limited content is left pending, the next poll retries it.
func (w *Watcher) poll() {
	text, err := w.read()
	if err != nil {
		if !w.failed {
			w.failed = true
			w.logger.Warn("Clipboard unavailable, capture paused until it recovers", zap.Error(err))
		}
		return
	}
	if w.failed {
		w.failed = false
		w.logger.Info("Clipboard access recovered")
	}

	if text == "" || text == w.last {
		return
	}
	if !w.limiter.Allow() {
		w.logger.Debug("Capture rate limit reached, retrying next poll")
		return
	}

	w.last = text
	if _, err := w.recorder.AddText(text, "watcher"); err != nil {
		w.logger.Error("Failed to record captured text", zap.Error(err))
	}
}
