package cloud

import (
	"bytes"
	"context"
	"crypto/sha1" // #nosec G505 -- the cloud login contract hashes passwords with SHA-1
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 4 << 20

// RESTClient implements Client against the cloud REST API.
//
// It is safe for concurrent use. A successful Login replaces the stored
// session; a failed Login leaves the previous session untouched.
type RESTClient struct {
	baseURL string
	http    *http.Client

	mu      sync.RWMutex
	session Session
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient creates a client for the API rooted at baseURL.
func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Session returns the current session. The zero Session means not logged in.
func (c *RESTClient) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

// Login authenticates with email and password. The password is sent as the
// hex SHA-1 digest the API expects.
func (c *RESTClient) Login(ctx context.Context, email, password string) (Session, error) {
	if email == "" || password == "" {
		return Session{}, fmt.Errorf("%w: email and password are required", ErrAuth)
	}

	sum := sha1.Sum([]byte(password)) // #nosec G401
	body := loginRequest{Email: email, Password: hex.EncodeToString(sum[:])}

	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/users/login", "", body, &resp); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if resp.ID == "" || resp.UserID == "" {
		return Session{}, fmt.Errorf("%w: login response missing token", ErrAuth)
	}

	session := Session{UserID: resp.UserID, Token: resp.ID}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	return session, nil
}

// Spheres lists the spheres of the logged in user.
func (c *RESTClient) Spheres(ctx context.Context) ([]Sphere, error) {
	session, err := c.requireSession()
	if err != nil {
		return nil, err
	}
	var spheres []Sphere
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(session.UserID)+"/spheres", session.Token, nil, &spheres); err != nil {
		return nil, err
	}
	return spheres, nil
}

// Locations lists the rooms of a sphere.
func (c *RESTClient) Locations(ctx context.Context, sphereID string) ([]Location, error) {
	session, err := c.requireSession()
	if err != nil {
		return nil, err
	}
	var locations []Location
	if err := c.do(ctx, http.MethodGet, "/Spheres/"+url.PathEscape(sphereID)+"/ownedLocations", session.Token, nil, &locations); err != nil {
		return nil, err
	}
	return locations, nil
}

// Stones lists the devices of a sphere.
func (c *RESTClient) Stones(ctx context.Context, sphereID string) ([]Stone, error) {
	session, err := c.requireSession()
	if err != nil {
		return nil, err
	}
	var stones []Stone
	if err := c.do(ctx, http.MethodGet, "/Spheres/"+url.PathEscape(sphereID)+"/ownedStones", session.Token, nil, &stones); err != nil {
		return nil, err
	}
	return stones, nil
}

// StoneData fetches the detailed state of a device.
func (c *RESTClient) StoneData(ctx context.Context, stoneID string) (StoneData, error) {
	session, err := c.requireSession()
	if err != nil {
		return StoneData{}, err
	}
	var data StoneData
	if err := c.do(ctx, http.MethodGet, "/Stones/"+url.PathEscape(stoneID), session.Token, nil, &data); err != nil {
		return StoneData{}, err
	}
	return data, nil
}

type switchRequest struct {
	Type       string `json:"type"`
	Percentage *int   `json:"percentage,omitempty"`
}

// TurnOn switches a device fully on.
func (c *RESTClient) TurnOn(ctx context.Context, stoneID string) error {
	return c.switchStone(ctx, stoneID, switchRequest{Type: SwitchTurnOn})
}

// TurnOff switches a device off.
func (c *RESTClient) TurnOff(ctx context.Context, stoneID string) error {
	return c.switchStone(ctx, stoneID, switchRequest{Type: SwitchTurnOff})
}

// SetSwitch sets a device to a switch percentage in [0,100].
func (c *RESTClient) SetSwitch(ctx context.Context, stoneID string, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return fmt.Errorf("%w: percentage %d out of range", ErrRequest, percentage)
	}
	return c.switchStone(ctx, stoneID, switchRequest{Type: SwitchPercentage, Percentage: &percentage})
}

func (c *RESTClient) switchStone(ctx context.Context, stoneID string, req switchRequest) error {
	session, err := c.requireSession()
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/Stones/"+url.PathEscape(stoneID)+"/switch", session.Token, req, nil)
}

type keysResponse struct {
	SphereKeys []SphereKey `json:"sphereKeys"`
}

// Keys fetches the encryption keys of a sphere.
func (c *RESTClient) Keys(ctx context.Context, sphereID string) ([]SphereKey, error) {
	session, err := c.requireSession()
	if err != nil {
		return nil, err
	}
	var resp keysResponse
	if err := c.do(ctx, http.MethodGet, "/Spheres/"+url.PathEscape(sphereID)+"/keys", session.Token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.SphereKeys, nil
}

type currentLocationEntry struct {
	InSpheres []struct {
		SphereID   string `json:"sphereId"`
		InLocation *struct {
			LocationID   string `json:"locationId"`
			LocationName string `json:"locationName"`
		} `json:"inLocation"`
	} `json:"inSpheres"`
}

// CurrentLocation returns where the logged in user currently is, one entry
// per sphere they are present in.
func (c *RESTClient) CurrentLocation(ctx context.Context) ([]SpherePresence, error) {
	session, err := c.requireSession()
	if err != nil {
		return nil, err
	}
	var entries []currentLocationEntry
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(session.UserID)+"/currentLocation", session.Token, nil, &entries); err != nil {
		return nil, err
	}

	var out []SpherePresence
	for _, entry := range entries {
		for _, in := range entry.InSpheres {
			p := SpherePresence{SphereID: in.SphereID}
			if in.InLocation != nil {
				p.LocationID = in.InLocation.LocationID
				p.LocationName = in.InLocation.LocationName
			}
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *RESTClient) requireSession() (Session, error) {
	session := c.Session()
	if session.Token == "" {
		return Session{}, ErrNotLoggedIn
	}
	return session, nil
}

// do performs one JSON request. in may be nil for no body, out may be nil to
// discard the response body.
func (c *RESTClient) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encoding %s %s: %w", ErrRequest, method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRequest, method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRequest, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s %s: %w", ErrRequest, method, path, err)
	}
	return nil
}

// StatusError reports a non-2xx response. It matches ErrRequest with errors.Is.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s %s: status %d", ErrRequest, e.Method, e.Path, e.StatusCode)
}

// Is makes errors.Is(err, ErrRequest) true for status errors.
func (e *StatusError) Is(target error) bool {
	return target == ErrRequest
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}
