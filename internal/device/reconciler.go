package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/sphere-bridge/internal/mapper"
)

// LockedReason is shown by the platform for devices locked in the cloud app.
const LockedReason = "device is locked in the app"

// Logger defines the logging interface used by the Reconciler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Source provides the current FastCache projection.
type Source interface {
	Load() *mapper.Snapshot
}

// Reconciler keeps platform-visible devices consistent with the FastCache.
//
// Availability is pushed only when it changes; capabilities are checked
// against the platform before being added or removed. Devices that
// disappear from the projection are left as they are.
//
// All public methods are thread-safe.
type Reconciler struct {
	source   Source
	platform Platform

	mu        sync.Mutex
	available map[string]bool // last availability pushed, by device ID

	logger Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(source Source, platform Platform) *Reconciler {
	return &Reconciler{
		source:    source,
		platform:  platform,
		available: make(map[string]bool),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the reconciler.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// UpdateDevices applies the current projection to the platform. A failing
// device does not stop the pass; every failure is returned joined under
// ErrPlatform.
func (r *Reconciler) UpdateDevices(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.source.Load()
	ids := make([]string, 0, len(snap.Devices))
	for id := range snap.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	changed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		dev := snap.Devices[id]
		n, err := r.reconcile(dev)
		changed += n
		if err != nil {
			errs = append(errs, err)
		}
	}

	if changed > 0 {
		r.logger.Info("devices reconciled", "devices", len(ids), "changes", changed)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPlatform, errors.Join(errs...))
	}
	return nil
}

func (r *Reconciler) reconcile(dev mapper.Device) (int, error) {
	changes := 0

	wantAvailable := !dev.Locked
	if prev, seen := r.available[dev.ID]; !seen || prev != wantAvailable {
		var err error
		if wantAvailable {
			err = r.platform.SetAvailable(dev.ID)
		} else {
			err = r.platform.SetUnavailable(dev.ID, LockedReason)
		}
		if err != nil {
			return changes, fmt.Errorf("availability of %s: %w", dev.ID, err)
		}
		r.available[dev.ID] = wantAvailable
		changes++
		r.logger.Debug("device availability changed", "device_id", dev.ID, "available", wantAvailable)
	}

	has := r.platform.HasCapability(dev.ID, CapDim)
	switch DimmabilityOf(dev) {
	case Dimmable:
		if !has {
			if err := r.platform.AddCapability(dev.ID, CapDim); err != nil {
				return changes, fmt.Errorf("adding %s to %s: %w", CapDim, dev.ID, err)
			}
			changes++
		}
	case Fixed:
		if has {
			if err := r.platform.RemoveCapability(dev.ID, CapDim); err != nil {
				return changes, fmt.Errorf("removing %s from %s: %w", CapDim, dev.ID, err)
			}
			changes++
		}
	}

	return changes, nil
}

// Reset forgets every remembered availability so the next pass pushes it
// again. Used after the platform loses its retained state.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = make(map[string]bool)
}
