package audit

import (
	"context"
	"time"
)

// writeTimeout bounds a single journal insert.
const writeTimeout = 2 * time.Second

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder journals resolved commands. Write failures are logged and
// never reach the command path.
type Recorder struct {
	repo   Repository
	logger Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder backed by repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger for journal write failures.
func (r *Recorder) SetLogger(l Logger) {
	r.logger = l
}

// RecordCommand stores one entry.
func (r *Recorder) RecordCommand(deviceID, class, transport, outcome string, took time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	e := &Entry{
		DeviceID:  deviceID,
		Class:     class,
		Transport: transport,
		Outcome:   outcome,
		Duration:  took,
		CreatedAt: r.now().UTC(),
	}
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Warn("journalling command failed", "device_id", deviceID, "error", err)
	}
}
