package radio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sphere-bridge/internal/infrastructure/mqtt"
)

// Gateway operations.
const (
	opDiscover          = "discover"
	opConnect           = "connect"
	opSetSwitchState    = "set_switch_state"
	opDisconnectControl = "disconnect_control"
	opDisconnect        = "disconnect"
)

// discoverSlack is added to the discovery window for the gateway's reply.
const discoverSlack = 500 * time.Millisecond

// Bus is the subset of the MQTT client used by MQTTLink.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

type request struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type discoverParams struct {
	Address   string `json:"address"`
	TimeoutMS int64  `json:"timeout_ms"`
}

type discoverResult struct {
	Found         bool          `json:"found"`
	Advertisement Advertisement `json:"advertisement"`
}

type connectResult struct {
	Session string `json:"session"`
}

type sessionParams struct {
	Session string `json:"session"`
}

type switchParams struct {
	Session string `json:"session"`
	State   int    `json:"state"`
	Admin   string `json:"admin_key,omitempty"`
	Member  string `json:"member_key,omitempty"`
	Basic   string `json:"basic_key,omitempty"`
}

// MQTTLink talks to a radio gateway over MQTT request/response topics:
// requests go to {prefix}/request/{protocol}/{id} and the gateway answers
// on {prefix}/response/{protocol}/{id}.
type MQTTLink struct {
	bus            Bus
	topics         mqtt.Topics
	protocol       string
	requestTimeout time.Duration
	newID          func() string

	pendingMu sync.Mutex
	pending   map[string]chan response

	// mu guards the connection state below.
	mu      sync.Mutex
	session string
	keys    switchParams
}

var _ Link = (*MQTTLink)(nil)

// NewMQTTLink creates a link. Call Start before use.
func NewMQTTLink(bus Bus, topics mqtt.Topics, protocol string, requestTimeout time.Duration) *MQTTLink {
	return &MQTTLink{
		bus:            bus,
		topics:         topics,
		protocol:       protocol,
		requestTimeout: requestTimeout,
		newID:          uuid.NewString,
		pending:        make(map[string]chan response),
	}
}

// Start subscribes to the gateway's responses.
func (l *MQTTLink) Start() error {
	if err := l.bus.Subscribe(l.topics.AllBridgeResponses(l.protocol), 1, l.handleResponse); err != nil {
		return fmt.Errorf("subscribing to radio gateway responses: %w", err)
	}
	return nil
}

func (l *MQTTLink) handleResponse(topic string, payload []byte) error {
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decoding gateway response: %w", err)
	}
	if resp.ID == "" {
		resp.ID = topic[strings.LastIndex(topic, "/")+1:]
	}

	l.pendingMu.Lock()
	ch, ok := l.pending[resp.ID]
	delete(l.pending, resp.ID)
	l.pendingMu.Unlock()

	if ok {
		ch <- resp
	}
	return nil
}

// call publishes one request and waits for its response. A zero timeout
// uses the link's request timeout.
func (l *MQTTLink) call(ctx context.Context, op string, params any, timeout time.Duration) (response, error) {
	if timeout <= 0 {
		timeout = l.requestTimeout
	}

	id := l.newID()
	ch := make(chan response, 1)
	l.pendingMu.Lock()
	l.pending[id] = ch
	l.pendingMu.Unlock()
	defer func() {
		l.pendingMu.Lock()
		delete(l.pending, id)
		l.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(request{ID: id, Op: op, Params: params})
	if err != nil {
		return response{}, fmt.Errorf("encoding %s request: %w", op, err)
	}
	if err := l.bus.Publish(l.topics.BridgeRequest(l.protocol, id), payload, 1, false); err != nil {
		return response{}, fmt.Errorf("publishing %s request: %w", op, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if !resp.OK {
			return resp, fmt.Errorf("%w: %s: %s", ErrGateway, op, resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return response{}, fmt.Errorf("%w: %s after %v", ErrTimeout, op, timeout)
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// Discover asks the gateway to scan for address. It returns (nil, nil) if
// the device is not heard within timeout.
func (l *MQTTLink) Discover(ctx context.Context, address string, timeout time.Duration) (*Advertisement, error) {
	resp, err := l.call(ctx, opDiscover, discoverParams{
		Address:   address,
		TimeoutMS: timeout.Milliseconds(),
	}, timeout+discoverSlack)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, nil
		}
		return nil, err
	}

	var result discoverResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decoding discover result: %w", err)
	}
	if !result.Found {
		return nil, nil
	}
	adv := result.Advertisement
	return &adv, nil
}

// Connect opens a gateway session to the advertised device.
func (l *MQTTLink) Connect(ctx context.Context, adv *Advertisement) error {
	if adv == nil {
		return fmt.Errorf("%w: no advertisement", ErrNotConnected)
	}
	resp, err := l.call(ctx, opConnect, adv, 0)
	if err != nil {
		return err
	}
	var result connectResult
	if err := json.Unmarshal(resp.Result, &result); err != nil || result.Session == "" {
		return fmt.Errorf("%w: connect returned no session", ErrGateway)
	}

	l.mu.Lock()
	l.session = result.Session
	l.mu.Unlock()
	return nil
}

// LoadKeys sets the keys sent with subsequent control commands.
func (l *MQTTLink) LoadKeys(admin, member, basic string) {
	l.mu.Lock()
	l.keys = switchParams{Admin: admin, Member: member, Basic: basic}
	l.mu.Unlock()
}

// SetSwitchState switches the connected device (SwitchOff or SwitchOn).
func (l *MQTTLink) SetSwitchState(ctx context.Context, state int) error {
	l.mu.Lock()
	params := l.keys
	params.Session = l.session
	l.mu.Unlock()

	if params.Session == "" {
		return ErrNotConnected
	}
	params.State = state
	_, err := l.call(ctx, opSetSwitchState, params, 0)
	return err
}

// DisconnectControl closes the control channel of the connected device.
func (l *MQTTLink) DisconnectControl(ctx context.Context) error {
	session := l.currentSession()
	if session == "" {
		return ErrNotConnected
	}
	_, err := l.call(ctx, opDisconnectControl, sessionParams{Session: session}, 0)
	return err
}

// Disconnect closes the gateway session and forgets the loaded keys.
func (l *MQTTLink) Disconnect(ctx context.Context) error {
	session := l.currentSession()

	l.mu.Lock()
	l.session = ""
	l.keys = switchParams{}
	l.mu.Unlock()

	if session == "" {
		return nil
	}
	_, err := l.call(ctx, opDisconnect, sessionParams{Session: session}, 0)
	return err
}

func (l *MQTTLink) currentSession() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}
