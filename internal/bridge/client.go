// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package bridge connects to the game host's websocket bridge. Host events are
// published to a core.Broadcaster and player requests are correlated with
// their responses by id.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gorilla/websocket"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/playfieldguard/internal/core"
)

// Error codes returned by the bridge client.
const (
	CodeInvalidConfig      = "CONFIG_INVALID"
	CodeDialFailed         = "BRIDGE_DIAL_FAILED"
	CodeClosed             = "BRIDGE_CLOSED"
	CodeTimeout            = "BRIDGE_TIMEOUT"
	CodeRemoteError        = "BRIDGE_REMOTE_ERROR"
	CodeVersionUnsupported = "BRIDGE_VERSION_UNSUPPORTED"
)

// Defaults applied by Dial.
const (
	DefaultRequestTimeout   = 5 * time.Second
	DefaultDialAttempts     = 5
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultBackoffBase      = 250 * time.Millisecond
	DefaultAPIVersion       = ">= 1.0.0, < 2.0.0"
)

// Config holds the connection settings for the host bridge.
type Config struct {
	// URL is the bridge websocket endpoint (e.g., "ws://127.0.0.1:12345/bridge").
	URL string

	// Token is sent as a bearer token when set.
	Token string

	// RequestTimeout bounds each request/response round trip (default: 5s).
	RequestTimeout time.Duration

	// DialAttempts is the number of connection attempts before giving up (default: 5).
	DialAttempts int

	// APIVersion is the semver constraint the host's hello version must satisfy.
	APIVersion string

	// HandshakeTimeout bounds the upgrade and the wait for the hello frame (default: 10s).
	HandshakeTimeout time.Duration

	// BackoffBase is the first retry delay; later delays grow exponentially.
	BackoffBase time.Duration
}

// Publisher receives host events.
type Publisher interface {
	Publish(event core.Event)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client is a connected host bridge. It implements engine.Host.
type Client struct {
	conn        *websocket.Conn
	cfg         Config
	events      Publisher
	logger      *slog.Logger
	hostVersion *semver.Version

	writeMu sync.Mutex

	mu      sync.Mutex // guards pending and err
	pending map[string]chan Frame
	err     error

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the host bridge, retrying with exponential backoff, and
// waits for the host's hello frame. Events read from the connection are
// published to events until the connection closes.
func Dial(ctx context.Context, cfg Config, events Publisher, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, oops.In("bridge").Code(CodeInvalidConfig).Errorf("url is required")
	}
	if events == nil {
		return nil, oops.In("bridge").Code(CodeInvalidConfig).Errorf("event publisher is required")
	}
	cfg = withDefaults(cfg)

	constraint, err := semver.NewConstraint(cfg.APIVersion)
	if err != nil {
		return nil, oops.In("bridge").
			Code(CodeInvalidConfig).
			With("api_version", cfg.APIVersion).
			Wrapf(err, "invalid api version constraint")
	}

	c := &Client{
		cfg:     cfg,
		events:  events,
		logger:  slog.Default(),
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(cfg.DialAttempts-1), retry.NewExponential(cfg.BackoffBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			c.logger.WarnContext(ctx, "bridge dial failed",
				"url", cfg.URL,
				"attempt", attempt,
				"max_attempts", cfg.DialAttempts,
				"error", err)
			return retry.RetryableError(err)
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return nil, oops.In("bridge").
			Code(CodeDialFailed).
			With("url", cfg.URL).
			With("attempts", attempt).
			Wrapf(err, "connect to host bridge")
	}

	if err := c.handshake(constraint); err != nil {
		_ = c.conn.Close()
		return nil, err
	}

	go c.readLoop()

	c.logger.Info("connected to host bridge",
		"url", cfg.URL,
		"host_version", c.hostVersion.String())
	return c, nil
}

func withDefaults(cfg Config) Config {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.DialAttempts < 1 {
		cfg.DialAttempts = DefaultDialAttempts
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	return cfg
}

func (c *Client) handshake(constraint *semver.Constraints) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout)); err != nil {
		return oops.In("bridge").Code(CodeDialFailed).Wrap(err)
	}

	var hello Frame
	if err := c.conn.ReadJSON(&hello); err != nil {
		return oops.In("bridge").Code(CodeDialFailed).Wrapf(err, "read hello")
	}
	if hello.Type != FrameHello {
		return oops.In("bridge").
			Code(CodeDialFailed).
			With("frame_type", hello.Type).
			Errorf("expected hello frame")
	}

	version, err := semver.NewVersion(hello.Version)
	if err != nil {
		return oops.In("bridge").
			Code(CodeVersionUnsupported).
			With("host_version", hello.Version).
			Wrapf(err, "invalid host version")
	}
	if !constraint.Check(version) {
		return oops.In("bridge").
			Code(CodeVersionUnsupported).
			With("host_version", version.String()).
			With("api_version", c.cfg.APIVersion).
			Errorf("host bridge version not supported")
	}
	c.hostVersion = version

	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return oops.In("bridge").Code(CodeDialFailed).Wrap(err)
	}
	return nil
}

// HostVersion returns the version announced by the host.
func (c *Client) HostVersion() string {
	return c.hostVersion.String()
}

// Connected reports whether the connection is still open.
func (c *Client) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed when the connection is lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, or nil while connected or
// after Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection and waits for the read loop to exit. Pending
// requests fail with BRIDGE_CLOSED.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	<-c.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return oops.In("bridge").Code(CodeClosed).Wrapf(err, "close bridge connection")
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("discarding malformed bridge frame", "error", err)
			continue
		}

		switch frame.Type {
		case FrameEvent:
			c.publish(frame)
		case FrameResponse:
			c.resolve(frame)
		default:
			c.logger.Warn("discarding unexpected bridge frame", "frame_type", frame.Type)
		}
	}
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if !c.closing.Load() {
		c.err = err
	}
	pending := len(c.pending)
	c.mu.Unlock()

	if c.closing.Load() {
		c.logger.Debug("bridge connection closed")
	} else {
		c.logger.Warn("bridge connection lost", "error", err, "pending_requests", pending)
		_ = c.conn.Close()
	}
	close(c.done)
}

func (c *Client) publish(frame Frame) {
	eventType := core.EventType(frame.Name)
	if !eventType.Valid() {
		c.logger.Warn("discarding unknown host event", "event_name", frame.Name)
		return
	}

	var payload EventPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		c.logger.Warn("discarding malformed host event",
			"event_name", frame.Name,
			"error", err)
		return
	}

	c.events.Publish(core.NewEvent(eventType, core.EntityID(payload.EntityID), payload.Playfield))
}

func (c *Client) resolve(frame Frame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.ID]
	delete(c.pending, frame.ID)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("discarding response for unknown request", "request_id", frame.ID)
		return
	}
	ch <- frame
}

// PlayerInfo fetches the host's current view of a player.
func (c *Client) PlayerInfo(ctx context.Context, id core.EntityID) (core.Snapshot, error) {
	var info PlayerInfo
	if err := c.call(ctx, RequestPlayerInfo, EntityRequest{EntityID: int32(id)}, &info); err != nil {
		return core.Snapshot{}, err
	}
	return info.Snapshot(), nil
}

// SendMessage shows a message to one player.
func (c *Client) SendMessage(ctx context.Context, msg core.Message) error {
	return c.call(ctx, RequestPlayerMessage, newMessageRequest(msg), nil)
}

// Teleport moves a player to a playfield.
func (c *Client) Teleport(ctx context.Context, req core.Teleport) error {
	return c.call(ctx, RequestPlayerTeleport, newTeleportRequest(req), nil)
}

func (c *Client) call(ctx context.Context, name string, payload, out any) error {
	errb := oops.In("bridge").With("request", name)

	data, err := json.Marshal(payload)
	if err != nil {
		return errb.Wrapf(err, "encode request")
	}

	id := core.NewULID().String()
	errb = errb.With("request_id", id)
	ch := make(chan Frame, 1)

	c.mu.Lock()
	if !c.Connected() {
		c.mu.Unlock()
		return errb.Code(CodeClosed).Errorf("bridge connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := c.write(Frame{Type: FrameRequest, ID: id, Name: name, Payload: data}); err != nil {
		return errb.Code(CodeClosed).Wrapf(err, "send request")
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return errb.Code(CodeRemoteError).Errorf("host: %s", resp.Error)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Payload, out); err != nil {
			return errb.Code(CodeRemoteError).Wrapf(err, "decode response")
		}
		return nil
	case <-c.done:
		return errb.Code(CodeClosed).Errorf("bridge connection closed")
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errb.Code(CodeTimeout).Wrap(ctx.Err())
		}
		return errb.Wrap(ctx.Err())
	}
}

func (c *Client) write(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout)); err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	return c.conn.WriteJSON(frame) //nolint:wrapcheck // wrapped by caller
}
