package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/sphere-bridge/internal/keys"
	"github.com/nerrad567/sphere-bridge/internal/mapper"
	"github.com/nerrad567/sphere-bridge/internal/radio"
)

// DefaultDiscoveryTimeout bounds radio discovery.
const DefaultDiscoveryTimeout = 10 * time.Second

// discoveryGrace lets the link report "not found" itself before the
// dispatcher's own deadline cuts it off.
const discoveryGrace = time.Second

// Class is a command class. At most one command per class is in flight.
type Class string

// Command classes.
const (
	ClassSwitch Class = "switch"
	ClassDim    Class = "dim"
)

// Cloud is the subset of the cloud client used for commands.
type Cloud interface {
	TurnOn(ctx context.Context, stoneID string) error
	TurnOff(ctx context.Context, stoneID string) error
	SetSwitch(ctx context.Context, stoneID string, percentage int) error
}

// Devices looks devices up in the FastCache.
type Devices interface {
	Device(id string) (mapper.Device, bool)
}

// Observer records inferred device state.
type Observer interface {
	Observe(deviceID string, obs mapper.Observation)
}

// KeySource provides sphere keys for radio commands.
type KeySource interface {
	Ensure(ctx context.Context, sphereID string) (keys.KeySet, error)
}

// Recorder receives command telemetry.
type Recorder interface {
	RecordCommand(deviceID, class, transport, outcome string, took time.Duration)
}

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Result is the resolution of one command.
type Result struct {
	DeviceID  string
	Class     Class
	Transport string
	Err       error
}

// OK reports whether the command succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Dispatcher sends device commands over the cloud, falling back to the
// radio link for switch commands.
//
// Each command class holds a capacity-one semaphore from before the first
// transport call until the command (fallback included) resolves. A request
// arriving while its class is held is dropped with ErrInFlight.
type Dispatcher struct {
	cloud    Cloud
	devices  Devices
	observer Observer
	keys     KeySource
	link     radio.Link

	discoveryTimeout time.Duration
	tokens           map[Class]*semaphore.Weighted

	recorders []Recorder
	logger    Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. link may be nil to disable the radio
// fallback.
func NewDispatcher(cloud Cloud, devices Devices, observer Observer, keySource KeySource, link radio.Link) *Dispatcher {
	return &Dispatcher{
		cloud:            cloud,
		devices:          devices,
		observer:         observer,
		keys:             keySource,
		link:             link,
		discoveryTimeout: DefaultDiscoveryTimeout,
		tokens: map[Class]*semaphore.Weighted{
			ClassSwitch: semaphore.NewWeighted(1),
			ClassDim:    semaphore.NewWeighted(1),
		},
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// AddRecorder adds a sink for command telemetry. Every recorder sees every
// resolved command.
func (d *Dispatcher) AddRecorder(r Recorder) {
	d.recorders = append(d.recorders, r)
}

// SetDiscoveryTimeout overrides the radio discovery bound.
func (d *Dispatcher) SetDiscoveryTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.discoveryTimeout = timeout
	}
}

// SetOnOff switches a device. The cloud is tried first; a recoverable cloud
// failure falls back to exactly one radio attempt. Nothing is retried.
func (d *Dispatcher) SetOnOff(ctx context.Context, deviceID string, on bool) Result {
	res := Result{DeviceID: deviceID, Class: ClassSwitch}

	dev, err := d.commandable(deviceID)
	if err != nil {
		res.Err = err
		return res
	}

	token := d.tokens[ClassSwitch]
	if !token.TryAcquire(1) {
		d.logger.Debug("switch command dropped", "device_id", deviceID)
		res.Err = ErrInFlight
		return res
	}
	defer token.Release(1)

	start := d.now()
	stage := StageCloud
	var sr stageResult
	for stage != StageDone {
		res.Transport = stage.Transport()
		switch stage {
		case StageCloud:
			sr = d.cloudSwitch(ctx, dev, on)
		case StageRadio:
			sr = d.radioSwitch(ctx, dev, on)
		}
		if sr.outcome != OutcomeOK {
			d.logger.Warn("switch attempt failed",
				"device_id", deviceID,
				"transport", res.Transport,
				"outcome", sr.outcome.String(),
				"error", sr.err,
			)
		}
		stage = nextStage(stage, sr.outcome, d.link != nil)
	}

	d.record(deviceID, ClassSwitch, res.Transport, sr.outcome, start)

	if sr.outcome != OutcomeOK {
		res.Err = fmt.Errorf("%w: switch %s via %s: %w", ErrCommand, deviceID, res.Transport, sr.err)
		return res
	}

	at := d.now()
	obs := mapper.Observation{On: mapper.Observed(on, at)}
	if dev.Dimmable {
		level := 0
		if on {
			level = 100
			if dev.DimLevel > 0 {
				level = dev.DimLevel
			}
		}
		obs.DimLevel = mapper.Observed(level, at)
	}
	d.observer.Observe(deviceID, obs)

	d.logger.Info("switch command sent", "device_id", deviceID, "on", on, "transport", res.Transport)
	return res
}

func (d *Dispatcher) cloudSwitch(ctx context.Context, dev mapper.Device, on bool) stageResult {
	var err error
	if on {
		err = d.cloud.TurnOn(ctx, dev.ID)
	} else {
		err = d.cloud.TurnOff(ctx, dev.ID)
	}
	return classifyCloud(ctx, err)
}

// classifyCloud maps a cloud error to a stage result. Cancellation of the
// caller's context is terminal; every other failure may be recovered over
// the radio.
func classifyCloud(ctx context.Context, err error) stageResult {
	switch {
	case err == nil:
		return stageOK()
	case ctx.Err() != nil:
		return stageTerminal(err)
	default:
		return stageRecoverable(err)
	}
}

func (d *Dispatcher) radioSwitch(ctx context.Context, dev mapper.Device, on bool) stageResult {
	keySet, err := d.keys.Ensure(ctx, dev.SphereID)
	if err != nil {
		d.logger.Warn("radio fallback without complete keys", "sphere_id", dev.SphereID, "error", err)
	}

	adv, err := d.discover(ctx, dev.Address)
	if err != nil {
		return stageTerminal(err)
	}
	if adv == nil {
		return stageTerminal(fmt.Errorf("%w: %s after %v", ErrDiscoveryTimeout, dev.Address, d.discoveryTimeout))
	}

	err = d.link.Connect(ctx, adv)
	defer func() {
		if derr := d.link.Disconnect(context.WithoutCancel(ctx)); derr != nil {
			d.logger.Warn("radio disconnect failed", "device_id", dev.ID, "error", derr)
		}
	}()
	if err != nil {
		return stageTerminal(fmt.Errorf("radio connect: %w", err))
	}

	d.link.LoadKeys(keySet.Admin, keySet.Member, keySet.Basic)

	state := radio.SwitchOff
	if on {
		state = radio.SwitchOn
	}
	if err := d.link.SetSwitchState(ctx, state); err != nil {
		return stageTerminal(fmt.Errorf("radio switch: %w", err))
	}

	if err := d.link.DisconnectControl(ctx); err != nil {
		d.logger.Warn("radio control disconnect failed", "device_id", dev.ID, "error", err)
	}
	return stageOK()
}

// discover bounds the link's discovery with the dispatcher's own deadline.
// Hitting that deadline counts as "not found".
func (d *Dispatcher) discover(ctx context.Context, address string) (*radio.Advertisement, error) {
	dctx, cancel := context.WithTimeout(ctx, d.discoveryTimeout+discoveryGrace)
	defer cancel()

	adv, err := d.link.Discover(dctx, address, d.discoveryTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("radio discover: %w", err)
	}
	return adv, nil
}

// SetDim dims a device to fraction in [0,1] over the cloud. The target level
// and the on/off state it implies are recorded before the dim value is sent;
// if the cloud call fails the previous state is recorded back.
func (d *Dispatcher) SetDim(ctx context.Context, deviceID string, fraction float64) Result {
	res := Result{DeviceID: deviceID, Class: ClassDim}

	dev, err := d.commandable(deviceID)
	if err != nil {
		res.Err = err
		return res
	}

	token := d.tokens[ClassDim]
	if !token.TryAcquire(1) {
		d.logger.Debug("dim command dropped", "device_id", deviceID)
		res.Err = ErrInFlight
		return res
	}
	defer token.Release(1)

	pct := Percentage(fraction)
	start := d.now()

	// On and DimLevel are always recorded as one observation.
	d.observer.Observe(deviceID, mapper.Observation{
		On:       mapper.Observed(pct > 0, start),
		DimLevel: mapper.Observed(pct, start),
	})

	res.Transport = StageCloud.Transport()
	sr := classifyCloud(ctx, d.cloud.SetSwitch(ctx, deviceID, pct))
	if sr.outcome != OutcomeOK {
		// Dimming has no radio fallback.
		sr.outcome = OutcomeTerminal
	}
	d.record(deviceID, ClassDim, res.Transport, sr.outcome, start)

	if sr.err != nil {
		d.logger.Warn("dim command failed", "device_id", deviceID, "percentage", pct, "error", sr.err)
		res.Err = fmt.Errorf("%w: dim %s to %d%%: %w", ErrCommand, deviceID, pct, sr.err)

		// Put back the state the device had before the command.
		at := d.now()
		d.observer.Observe(deviceID, mapper.Observation{
			On:       mapper.Observed(dev.On, at),
			DimLevel: mapper.Observed(dev.DimLevel, at),
		})
		return res
	}

	d.logger.Info("dim command sent", "device_id", deviceID, "percentage", pct)
	return res
}

func (d *Dispatcher) commandable(deviceID string) (mapper.Device, error) {
	dev, ok := d.devices.Device(deviceID)
	if !ok {
		return mapper.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	if dev.Locked {
		return mapper.Device{}, fmt.Errorf("%w: %s", ErrDeviceLocked, deviceID)
	}
	return dev, nil
}

func (d *Dispatcher) record(deviceID string, class Class, transport string, outcome Outcome, start time.Time) {
	took := d.now().Sub(start)
	for _, r := range d.recorders {
		r.RecordCommand(deviceID, string(class), transport, outcome.String(), took)
	}
}
