package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sphere-bridge/internal/cloud"
	"github.com/nerrad567/sphere-bridge/internal/cloud/cloudtest"
	"github.com/nerrad567/sphere-bridge/internal/keys"
	"github.com/nerrad567/sphere-bridge/internal/mapper"
	"github.com/nerrad567/sphere-bridge/internal/mirror"
	"github.com/nerrad567/sphere-bridge/internal/presence"
	"github.com/nerrad567/sphere-bridge/internal/radio"
)

type fakeDevices map[string]mapper.Device

func (f fakeDevices) Device(id string) (mapper.Device, bool) {
	d, ok := f[id]
	return d, ok
}

type fakeObserver struct {
	mu  sync.Mutex
	obs []mapper.Observation
}

func (f *fakeObserver) Observe(_ string, obs mapper.Observation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obs = append(f.obs, obs)
}

type fakeKeys struct {
	set   keys.KeySet
	err   error
	calls int
}

func (f *fakeKeys) Ensure(context.Context, string) (keys.KeySet, error) {
	f.calls++
	return f.set, f.err
}

type fakeLink struct {
	mu  sync.Mutex
	ops []string

	adv         *radio.Advertisement
	discoverErr error
	connectErr  error
	switchErr   error

	// discoverBlocks makes Discover wait for its context.
	discoverBlocks bool

	loaded [3]string
	state  int
}

func (f *fakeLink) op(name string) {
	f.mu.Lock()
	f.ops = append(f.ops, name)
	f.mu.Unlock()
}

func (f *fakeLink) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeLink) Discover(ctx context.Context, _ string, _ time.Duration) (*radio.Advertisement, error) {
	f.op("discover")
	if f.discoverBlocks {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.adv, f.discoverErr
}

func (f *fakeLink) Connect(context.Context, *radio.Advertisement) error {
	f.op("connect")
	return f.connectErr
}

func (f *fakeLink) LoadKeys(admin, member, basic string) {
	f.op("load_keys")
	f.loaded = [3]string{admin, member, basic}
}

func (f *fakeLink) SetSwitchState(_ context.Context, state int) error {
	f.op("switch")
	f.state = state
	return f.switchErr
}

func (f *fakeLink) DisconnectControl(context.Context) error {
	f.op("disconnect_control")
	return nil
}

func (f *fakeLink) Disconnect(context.Context) error {
	f.op("disconnect")
	return nil
}

type recorded struct {
	class, transport, outcome string
}

type fakeRecorder struct {
	mu  sync.Mutex
	got []recorded
}

func (f *fakeRecorder) RecordCommand(_, class, transport, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, recorded{class, transport, outcome})
}

type harness struct {
	d        *Dispatcher
	cloud    *cloudtest.Fake
	link     *fakeLink
	keys     *fakeKeys
	observer *fakeObserver
	recorder *fakeRecorder
}

func newHarness() *harness {
	h := &harness{
		cloud:    cloudtest.New("", ""),
		link:     &fakeLink{adv: &radio.Advertisement{Address: "AA:01", Handle: "h1"}},
		keys:     &fakeKeys{set: keys.KeySet{Admin: "a", Member: "m", Basic: "b"}},
		observer: &fakeObserver{},
		recorder: &fakeRecorder{},
	}
	devices := fakeDevices{
		"lamp":   {ID: "lamp", SphereID: "s1", Address: "AA:01", Dimmable: true, DimLevel: 40},
		"plug":   {ID: "plug", SphereID: "s1", Address: "AA:02"},
		"locked": {ID: "locked", SphereID: "s1", Address: "AA:03", Locked: true},
		"dark":   {ID: "dark", SphereID: "s1", Address: "AA:04", Dimmable: true},
	}
	h.d = NewDispatcher(h.cloud, devices, h.observer, h.keys, h.link)
	h.d.AddRecorder(h.recorder)
	h.d.SetDiscoveryTimeout(50 * time.Millisecond)
	return h
}

func TestNextStage(t *testing.T) {
	tests := []struct {
		current  Stage
		outcome  Outcome
		fallback bool
		want     Stage
	}{
		{StageCloud, OutcomeOK, true, StageDone},
		{StageCloud, OutcomeRecoverable, true, StageRadio},
		{StageCloud, OutcomeRecoverable, false, StageDone},
		{StageCloud, OutcomeTerminal, true, StageDone},
		{StageRadio, OutcomeOK, true, StageDone},
		{StageRadio, OutcomeRecoverable, true, StageDone},
		{StageRadio, OutcomeTerminal, true, StageDone},
	}

	for _, tt := range tests {
		if got := nextStage(tt.current, tt.outcome, tt.fallback); got != tt.want {
			t.Errorf("nextStage(%v, %v, %v) = %v, want %v", tt.current, tt.outcome, tt.fallback, got, tt.want)
		}
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		fraction float64
		want     int
	}{
		{0, 0},
		{0.004, 0},
		{0.01, 10},
		{0.05, 10},
		{0.094, 10},
		{0.1, 10},
		{0.11, 11},
		{0.5, 50},
		{1.0, 100},
		{1.7, 100},
		{-0.3, 0},
	}

	for _, tt := range tests {
		if got := Percentage(tt.fraction); got != tt.want {
			t.Errorf("Percentage(%v) = %d, want %d", tt.fraction, got, tt.want)
		}
	}
}

func TestSetOnOff_CloudSuccess(t *testing.T) {
	h := newHarness()

	res := h.d.SetOnOff(context.Background(), "lamp", true)
	if !res.OK() || res.Transport != "cloud" {
		t.Fatalf("SetOnOff() = %+v", res)
	}
	if h.cloud.Calls("TurnOn") != 1 {
		t.Errorf("TurnOn calls = %d, want 1", h.cloud.Calls("TurnOn"))
	}
	if len(h.link.Ops()) != 0 {
		t.Errorf("radio used after cloud success: %v", h.link.Ops())
	}

	if len(h.observer.obs) != 1 {
		t.Fatalf("observations = %d, want 1", len(h.observer.obs))
	}
	obs := h.observer.obs[0]
	if !obs.On.Set || !obs.On.Value {
		t.Errorf("On observation = %+v", obs.On)
	}
	if obs.DimLevel.Value != 40 {
		t.Errorf("DimLevel observation = %d, want previous level 40", obs.DimLevel.Value)
	}
	if got := h.recorder.got; len(got) != 1 || got[0] != (recorded{"switch", "cloud", "ok"}) {
		t.Errorf("recorded %+v", got)
	}
}

func TestSetOnOff_DimMirroring(t *testing.T) {
	tests := []struct {
		name    string
		device  string
		on      bool
		wantSet bool
		wantDim int
	}{
		{"dimmable on keeps previous level", "lamp", true, true, 40},
		{"dimmable on without level goes to max", "dark", true, true, 100},
		{"dimmable off goes to zero", "lamp", false, true, 0},
		{"fixed device has no dim", "plug", true, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			if res := h.d.SetOnOff(context.Background(), tt.device, tt.on); !res.OK() {
				t.Fatalf("SetOnOff() = %+v", res)
			}
			obs := h.observer.obs[0]
			if obs.DimLevel.Set != tt.wantSet || obs.DimLevel.Value != tt.wantDim {
				t.Errorf("DimLevel = %+v, want set=%v value=%d", obs.DimLevel, tt.wantSet, tt.wantDim)
			}
		})
	}
}

func TestSetOnOff_RadioFallback(t *testing.T) {
	h := newHarness()
	h.cloud.SwitchErr = errors.New("cloud down")

	res := h.d.SetOnOff(context.Background(), "plug", false)
	if !res.OK() || res.Transport != "radio" {
		t.Fatalf("SetOnOff() = %+v", res)
	}

	want := "discover,connect,load_keys,switch,disconnect_control,disconnect"
	if got := strings.Join(h.link.Ops(), ","); got != want {
		t.Errorf("radio ops = %s, want %s", got, want)
	}
	if h.link.loaded != [3]string{"a", "m", "b"} {
		t.Errorf("loaded keys = %v", h.link.loaded)
	}
	if h.link.state != radio.SwitchOff {
		t.Errorf("switch state = %d, want off", h.link.state)
	}
	if h.keys.calls != 1 {
		t.Errorf("Ensure calls = %d, want 1", h.keys.calls)
	}
	if got := h.recorder.got; len(got) != 1 || got[0] != (recorded{"switch", "radio", "ok"}) {
		t.Errorf("recorded %+v", got)
	}
}

func TestSetOnOff_RadioFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*harness)
		wantErr error
		wantOps string
	}{
		{
			name:    "not discovered",
			setup:   func(h *harness) { h.link.adv = nil },
			wantErr: ErrDiscoveryTimeout,
			wantOps: "discover",
		},
		{
			name:    "discovery hangs",
			setup:   func(h *harness) { h.link.discoverBlocks = true },
			wantErr: ErrDiscoveryTimeout,
			wantOps: "discover",
		},
		{
			name:    "connect fails",
			setup:   func(h *harness) { h.link.connectErr = errors.New("gatt") },
			wantErr: ErrCommand,
			wantOps: "discover,connect,disconnect",
		},
		{
			name:    "switch fails",
			setup:   func(h *harness) { h.link.switchErr = errors.New("nack") },
			wantErr: ErrCommand,
			wantOps: "discover,connect,load_keys,switch,disconnect",
		},
		{
			name: "key fetch failure still attempts radio",
			setup: func(h *harness) {
				h.keys.set = keys.KeySet{}
				h.keys.err = keys.ErrKeyFetch
				h.link.switchErr = errors.New("no keys")
			},
			wantErr: ErrCommand,
			wantOps: "discover,connect,load_keys,switch,disconnect",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.cloud.SwitchErr = errors.New("cloud down")
			tt.setup(h)

			res := h.d.SetOnOff(context.Background(), "plug", true)
			if !errors.Is(res.Err, tt.wantErr) || !errors.Is(res.Err, ErrCommand) {
				t.Errorf("SetOnOff() error = %v, want %v", res.Err, tt.wantErr)
			}
			if got := strings.Join(h.link.Ops(), ","); got != tt.wantOps {
				t.Errorf("radio ops = %s, want %s", got, tt.wantOps)
			}
			if h.cloud.Calls("TurnOn") != 1 {
				t.Errorf("cloud retried: %d calls", h.cloud.Calls("TurnOn"))
			}
			if len(h.observer.obs) != 0 {
				t.Error("failed command recorded an observation")
			}
		})
	}
}

func TestSetOnOff_NoFallbackWithoutLink(t *testing.T) {
	h := newHarness()
	h.cloud.SwitchErr = errors.New("cloud down")
	d := NewDispatcher(h.cloud, fakeDevices{"plug": {ID: "plug"}}, h.observer, h.keys, nil)

	res := d.SetOnOff(context.Background(), "plug", true)
	if !errors.Is(res.Err, ErrCommand) || res.Transport != "cloud" {
		t.Errorf("SetOnOff() = %+v", res)
	}
}

func TestSetOnOff_CancelledIsTerminal(t *testing.T) {
	h := newHarness()
	h.cloud.SwitchGate = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.d.SetOnOff(ctx, "plug", true)
	if !errors.Is(res.Err, ErrCommand) {
		t.Errorf("SetOnOff() error = %v", res.Err)
	}
	if len(h.link.Ops()) != 0 {
		t.Errorf("radio used after cancellation: %v", h.link.Ops())
	}
}

func TestSetOnOff_GuardErrors(t *testing.T) {
	h := newHarness()

	if res := h.d.SetOnOff(context.Background(), "locked", true); !errors.Is(res.Err, ErrDeviceLocked) {
		t.Errorf("locked: error = %v", res.Err)
	}
	if res := h.d.SetOnOff(context.Background(), "missing", true); !errors.Is(res.Err, ErrDeviceNotFound) {
		t.Errorf("missing: error = %v", res.Err)
	}
	if res := h.d.SetDim(context.Background(), "locked", 0.5); !errors.Is(res.Err, ErrDeviceLocked) {
		t.Errorf("locked dim: error = %v", res.Err)
	}
	if h.cloud.Calls("TurnOn")+h.cloud.Calls("SetSwitch") != 0 || len(h.link.Ops()) != 0 {
		t.Error("transport touched for a rejected command")
	}
}

func TestSetOnOff_OverlappingDropped(t *testing.T) {
	h := newHarness()
	gate := make(chan struct{})
	h.cloud.SwitchGate = gate

	first := make(chan Result, 1)
	go func() { first <- h.d.SetOnOff(context.Background(), "lamp", true) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.cloud.Calls("TurnOn") == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	second := h.d.SetOnOff(context.Background(), "plug", false)
	if !errors.Is(second.Err, ErrInFlight) {
		t.Errorf("overlapping SetOnOff() error = %v, want ErrInFlight", second.Err)
	}

	// A dim command uses its own token.
	h.cloud.Set(func(f *cloudtest.Fake) { f.SwitchGate = nil })
	if res := h.d.SetDim(context.Background(), "lamp", 0.5); !res.OK() {
		t.Errorf("SetDim() during switch = %+v", res)
	}

	close(gate)
	if res := <-first; !res.OK() {
		t.Errorf("first SetOnOff() = %+v", res)
	}

	if got := h.cloud.Calls("TurnOn") + h.cloud.Calls("TurnOff"); got != 1 {
		t.Errorf("switch transport invoked %d times, want 1", got)
	}

	if res := h.d.SetOnOff(context.Background(), "plug", false); !res.OK() {
		t.Errorf("SetOnOff() after release = %+v", res)
	}
}

func TestSetDim(t *testing.T) {
	tests := []struct {
		fraction float64
		wantPct  int
		wantOn   bool
	}{
		{0, 0, false},
		{0.05, 10, true},
		{0.5, 50, true},
		{1.0, 100, true},
	}

	for _, tt := range tests {
		h := newHarness()
		res := h.d.SetDim(context.Background(), "lamp", tt.fraction)
		if !res.OK() {
			t.Fatalf("SetDim(%v) = %+v", tt.fraction, res)
		}

		switches := h.cloud.Switches()
		if len(switches) != 1 || switches[0].Type != cloud.SwitchPercentage || switches[0].Percentage != tt.wantPct {
			t.Errorf("SetDim(%v) sent %+v, want %d%%", tt.fraction, switches, tt.wantPct)
		}

		if len(h.observer.obs) != 1 {
			t.Fatalf("SetDim(%v) observations = %d, want 1", tt.fraction, len(h.observer.obs))
		}
		obs := h.observer.obs[0]
		if !obs.On.Set || obs.On.Value != tt.wantOn || !obs.DimLevel.Set || obs.DimLevel.Value != tt.wantPct {
			t.Errorf("SetDim(%v) observation = %+v, want on %v at %d%%", tt.fraction, obs, tt.wantOn, tt.wantPct)
		}
	}
}

// projected wires the dispatcher to a real mirror and mapper over a fake
// cloud holding one dimmable lamp at level.
func projected(t *testing.T, level int) (*Dispatcher, *mapper.Mapper, *cloudtest.Fake) {
	t.Helper()
	f := cloudtest.New("owner@example.com", "secret")
	f.SphereList = []cloud.Sphere{{ID: "s1", Name: "Home"}}
	f.Rooms["s1"] = []cloud.Location{{ID: "kitchen", Name: "Kitchen"}}
	f.Devices["s1"] = []cloud.Stone{{ID: "lamp", Name: "Lamp", Address: "AA:01", LocationID: "kitchen"}}
	f.Data["lamp"] = cloud.StoneData{
		Abilities:   []cloud.Ability{{Type: cloud.AbilityDimming, Enabled: true}},
		SwitchState: &level,
	}

	store := presence.NewStore()
	raw := mirror.NewRawCache()
	mir := mirror.New(f, raw, store)
	if err := mir.Login(context.Background(), "owner@example.com", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := mir.GetAll(context.Background()); err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	mp := mapper.New(raw, store)
	mp.MapAll()

	d := NewDispatcher(f, mp.Cache(), mp, &fakeKeys{}, nil)
	return d, mp, f
}

func TestSetDim_ProjectionStaysConsistent(t *testing.T) {
	tests := []struct {
		name      string
		level     int
		fraction  float64
		fail      bool
		duringOn  bool
		duringDim int
		afterOn   bool
		afterDim  int
	}{
		{name: "off to half", level: 0, fraction: 0.5, duringOn: true, duringDim: 50, afterOn: true, afterDim: 50},
		{name: "dimmed to off", level: 60, fraction: 0, duringOn: false, duringDim: 0, afterOn: false, afterDim: 0},
		{name: "failure restores on state", level: 60, fraction: 0.2, fail: true, duringOn: true, duringDim: 20, afterOn: true, afterDim: 60},
		{name: "failure restores off state", level: 0, fraction: 0.8, fail: true, duringOn: true, duringDim: 80, afterOn: false, afterDim: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, mp, f := projected(t, tt.level)
			gate := make(chan struct{})
			f.Set(func(f *cloudtest.Fake) {
				f.SwitchGate = gate
				if tt.fail {
					f.SwitchErr = errors.New("cloud down")
				}
			})

			done := make(chan Result, 1)
			go func() { done <- d.SetDim(context.Background(), "lamp", tt.fraction) }()

			deadline := time.Now().Add(2 * time.Second)
			for f.Calls("SetSwitch") == 0 {
				if time.Now().After(deadline) {
					t.Fatal("SetSwitch was never called")
				}
				time.Sleep(time.Millisecond)
			}

			dev, _ := mp.Cache().Device("lamp")
			if dev.On != tt.duringOn || dev.DimLevel != tt.duringDim {
				t.Errorf("during cloud call: on=%v dim=%d, want on=%v dim=%d", dev.On, dev.DimLevel, tt.duringOn, tt.duringDim)
			}

			close(gate)
			res := <-done
			if res.OK() == tt.fail {
				t.Fatalf("SetDim() = %+v, fail %v", res, tt.fail)
			}

			dev, _ = mp.Cache().Device("lamp")
			if dev.On != tt.afterOn || dev.DimLevel != tt.afterDim {
				t.Errorf("after: on=%v dim=%d, want on=%v dim=%d", dev.On, dev.DimLevel, tt.afterOn, tt.afterDim)
			}
		})
	}
}

func TestSetDim_CloudOnly(t *testing.T) {
	h := newHarness()
	h.cloud.SwitchErr = errors.New("cloud down")

	res := h.d.SetDim(context.Background(), "lamp", 0.5)
	if !errors.Is(res.Err, ErrCommand) {
		t.Errorf("SetDim() error = %v, want ErrCommand", res.Err)
	}
	if len(h.link.Ops()) != 0 {
		t.Errorf("dim used the radio: %v", h.link.Ops())
	}
	if len(h.observer.obs) != 2 {
		t.Fatalf("observations = %d, want target then restore", len(h.observer.obs))
	}
	if restored := h.observer.obs[1]; restored.On.Value || restored.DimLevel.Value != 40 {
		t.Errorf("restore observation = %+v, want off at 40%%", restored)
	}
	if got := h.recorder.got; len(got) != 1 || got[0] != (recorded{"dim", "cloud", "terminal"}) {
		t.Errorf("recorded %+v", got)
	}
}
