package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"device-remoting/internal/core/command"
	"device-remoting/internal/core/session"
	"device-remoting/internal/core/token"
	"device-remoting/internal/metrics"
	"device-remoting/pkg/rand"

	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

const (
	maxPulledCommands = 100
	DefaultReplyTopic = "CommandReplies"
)

// Config drives the device protocol.
type Config struct {
	TokenSecret     string
	TokenExpire     time.Duration
	SessionTimeout  time.Duration
	AutoRegister    bool
	SaltTime        time.Duration
	HeartbeatPeriod time.Duration
	ReplyTimeout    time.Duration
	// ReplyTopic carries replies that reach a process other than the sender's.
	ReplyTopic string
}

// Stores groups the persistence the service depends on. Events and Releases are optional.
type Stores struct {
	Devices  DeviceRepository
	Onlines  OnlineRepository
	History  HistoryRepository
	Events   EventRepository
	Releases ReleaseSource
}

// Service drives the device lifecycle: login, heartbeat, commands, logout.
type Service struct {
	cfg      Config
	st       Stores
	sessions *session.Manager
	queue    command.Queue
	tokens   *token.Service
	password *SaltPassword
	replies  *replyWaiter
	now      func() time.Time
	lg       zerolog.Logger

	delayMu sync.Mutex
	delay   float64

	replyMu     sync.Mutex
	replyRouted bool
}

func NewService(cfg Config, st Stores, sessions *session.Manager, queue command.Queue, lg zerolog.Logger) *Service {
	if cfg.TokenExpire <= 0 {
		cfg.TokenExpire = 2 * time.Hour
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = 60 * time.Second
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 10 * time.Second
	}
	if cfg.ReplyTopic == "" {
		cfg.ReplyTopic = DefaultReplyTopic
	}
	s := &Service{
		cfg:      cfg,
		st:       st,
		sessions: sessions,
		queue:    queue,
		password: NewSaltPassword(cfg.SaltTime),
		replies:  newReplyWaiter(),
		now:      time.Now,
		lg:       lg.With().Str("component", "device-service").Logger(),
	}
	s.tokens = token.NewWithClock(func() time.Time { return s.now() })
	return s
}

// SetClock replaces the service clock, tokens included.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Password exposes the credential scheme so clients can hash with the same window.
func (s *Service) Password() *SaltPassword { return s.password }

// Login authenticates a device, auto-registering it when allowed, and issues a token.
func (s *Service) Login(ctx context.Context, req *LoginRequest, source, ip string) (*Device, *Online, *LoginResponse, error) {
	fail := func(a Auditable, err error) (*Device, *Online, *LoginResponse, error) {
		s.loginFailed(ctx, a, err, source, ip)
		return nil, nil, nil, err
	}
	if req == nil {
		return fail(unknownDevice{}, fmt.Errorf("%w: empty login request", ErrArgument))
	}
	if req.Code == "" && !s.cfg.AutoRegister {
		return fail(unknownDevice{}, fmt.Errorf("%w: empty device code", ErrArgument))
	}
	if req.Code != "" && !session.ValidCode(req.Code) {
		return fail(unknownDevice{req.Code}, fmt.Errorf("%w: device code %q is not routable", ErrArgument, req.Code))
	}

	dc := acquireContext()
	defer releaseContext(dc)
	dc.Code, dc.ClientID, dc.IP = req.Code, req.ClientID, ip
	now := s.now()

	if req.Code != "" {
		dev, err := s.st.Devices.FindByCode(ctx, req.Code)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return fail(unknownDevice{req.Code}, fmt.Errorf("find device %s: %w", req.Code, err))
		}
		dc.Device = dev
	}

	var remarks []string
	switch dev := dc.Device; {
	case dev == nil:
		if !s.cfg.AutoRegister {
			return fail(unknownDevice{req.Code}, fmt.Errorf("%w: unknown device %q", ErrForbidden, req.Code))
		}
		dc.Device = s.register(req, now)
		dc.Set("issued", true)
		remarks = append(remarks, "auto-registered")

	case !dev.Enable:
		return fail(dev, fmt.Errorf("%w: device %s disabled", ErrForbidden, dev.Code))

	case !s.authorize(dev, req.Secret, now):
		if !s.cfg.AutoRegister {
			return fail(dev, fmt.Errorf("%w: secret mismatch for %s", ErrUnauthorized, dev.Code))
		}
		dev.Secret = rand.Secret()
		dc.Set("issued", true)
		remarks = append(remarks, "secret mismatch, re-registered")
	}

	dev := dc.Device
	if dev.Secret == "" {
		// first login of a provisioned device without secret
		if req.Secret != "" && !strings.HasPrefix(req.Secret, saltPrefix) {
			dev.Secret = req.Secret
		} else {
			dev.Secret = rand.Secret()
			dc.Set("issued", true)
		}
	}
	if req.UUID != "" {
		if dev.UUID != "" && dev.UUID != req.UUID {
			remarks = append(remarks, fmt.Sprintf("uuid mismatch: stored %s, presented %s", dev.UUID, req.UUID))
			s.lg.Warn().Str("code", dev.Code).Str("stored", dev.UUID).Str("presented", req.UUID).
				Msg("hardware id differs from the stored one")
		} else {
			dev.UUID = req.UUID
		}
	}
	if req.Name != "" && dev.Name == "" {
		dev.Name = req.Name
	}
	if req.Version != "" {
		dev.Version = req.Version
	}
	dev.IP = ip
	dev.Logins++
	dev.LastLogin = now
	dev.LastActive = now
	if err := s.st.Devices.Save(ctx, dev); err != nil {
		return fail(dev, fmt.Errorf("save device %s: %w", dev.Code, err))
	}

	tk, err := s.tokens.IssueToken(dev.Code, s.cfg.TokenSecret, s.cfg.TokenExpire, req.ClientID)
	if err != nil {
		return fail(dev, err)
	}
	dc.Token = tk.AccessToken

	online, err := s.upsertOnline(ctx, dc, now, func(o *Online) {
		o.Token = dc.Token
		o.ClientID = dc.ClientID
	})
	if err != nil {
		return fail(dev, err)
	}

	s.touchSession(dev.Code)
	s.audit(ctx, dev, "Login", true, strings.Join(remarks, "; "), ip, source)
	metrics.DeviceLogins.WithLabelValues("ok").Inc()

	resp := &LoginResponse{
		Name:       dev.Name,
		Token:      tk.AccessToken,
		Expire:     tk.ExpireIn,
		Time:       req.Time,
		ServerTime: now.UnixMilli(),
	}
	if issued, _ := dc.Get("issued").(bool); issued {
		resp.Code = dev.Code
		resp.Secret = dev.Secret
	}
	return dev, online, resp, nil
}

func (s *Service) authorize(a Authorizer, presented string, now time.Time) bool {
	return a.Authorize(presented, now, s.password)
}

func (s *Service) register(req *LoginRequest, now time.Time) *Device {
	code := req.Code
	if code == "" {
		code = rand.ID16()
	}
	name := req.Name
	if name == "" {
		name = code
	}
	s.lg.Info().Str("code", code).Msg("auto-register device")
	return &Device{
		Code:      code,
		Name:      name,
		Secret:    rand.Secret(),
		Enable:    true,
		CreatedAt: now,
	}
}

func (s *Service) loginFailed(ctx context.Context, a Auditable, err error, source, ip string) {
	metrics.DeviceLogins.WithLabelValues("failed").Inc()
	s.audit(ctx, a, "Login", false, err.Error(), ip, source)
}

// RefreshToken swaps a valid token for a fresh one. Expired tokens are rejected.
func (s *Service) RefreshToken(ctx context.Context, req *RefreshTokenRequest, ip string) (*token.Model, error) {
	if req == nil || req.RefreshToken == "" {
		err := fmt.Errorf("%w: empty refresh token", ErrArgument)
		s.audit(ctx, unknownDevice{}, "RefreshToken", false, err.Error(), ip, "")
		return nil, err
	}

	claims, err := s.tokens.DecodeTokenWithError(req.RefreshToken, s.cfg.TokenSecret)
	var dev *Device
	if claims != nil && claims.Subject != "" {
		d, ferr := s.st.Devices.FindByCode(ctx, claims.Subject)
		if ferr != nil && !errors.Is(ferr, ErrRecordNotFound) {
			err = fmt.Errorf("find device %s: %w", claims.Subject, ferr)
			s.audit(ctx, unknownDevice{claims.Subject}, "RefreshToken", false, err.Error(), ip, "")
			return nil, err
		}
		dev = d
	}
	if err == nil && (dev == nil || !dev.Enable) {
		err = fmt.Errorf("%w: device %q unknown or disabled", ErrForbidden, claims.Subject)
	}

	var subject Auditable = unknownDevice{}
	if dev != nil {
		subject = dev
	} else if claims != nil {
		subject = unknownDevice{claims.Subject}
	}
	if err != nil {
		s.audit(ctx, subject, "RefreshToken", false, err.Error(), ip, "")
		return nil, err
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = claims.ClientID
	}
	tk, err := s.tokens.IssueToken(dev.Code, s.cfg.TokenSecret, s.cfg.TokenExpire, clientID)
	if err != nil {
		s.audit(ctx, dev, "RefreshToken", false, err.Error(), ip, "")
		return nil, err
	}
	s.audit(ctx, dev, "RefreshToken", true, "", ip, "")
	return tk, nil
}

// Authenticate resolves the device behind a bearer token.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*Device, *token.Claims, error) {
	claims, err := s.tokens.DecodeToken(tokenString, s.cfg.TokenSecret)
	if err != nil {
		return nil, nil, err
	}
	dev, err := s.st.Devices.FindByCode(ctx, claims.Subject)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, claims.Subject)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find device %s: %w", claims.Subject, err)
	}
	if !dev.Enable {
		return nil, nil, fmt.Errorf("%w: device %s disabled", ErrForbidden, dev.Code)
	}
	return dev, claims, nil
}

// Ping processes a heartbeat. The response may carry a rotated token and
// commands queued for the device.
func (s *Service) Ping(ctx context.Context, dev *Device, req *PingRequest, tokenString, clientID, ip string) (*Online, *PingResponse, error) {
	if dev == nil {
		return nil, nil, fmt.Errorf("%w: nil device", ErrArgument)
	}
	if req == nil {
		req = &PingRequest{}
	}

	dc := acquireContext()
	defer releaseContext(dc)
	dc.Code, dc.Device, dc.Token, dc.ClientID, dc.IP = dev.Code, dev, tokenString, clientID, ip
	now := s.now()

	delay := req.Delay
	if delay <= 0 && req.Time > 0 {
		delay = int(now.UnixMilli() - req.Time)
	}
	if delay > 0 {
		s.recordDelay(delay)
	}

	resp := &PingResponse{
		Time:       req.Time,
		ServerTime: now.UnixMilli(),
		Period:     int(s.cfg.HeartbeatPeriod / time.Second),
	}
	if tk := s.rotateToken(dev, tokenString, clientID, now); tk != nil {
		resp.Token = tk.AccessToken
		dc.Token = tk.AccessToken
	}

	if ip != "" {
		dev.IP = ip
	}
	dev.LastActive = now
	if err := s.st.Devices.Save(ctx, dev); err != nil {
		return nil, nil, fmt.Errorf("save device %s: %w", dev.Code, err)
	}

	online, err := s.upsertOnline(ctx, dc, now, func(o *Online) {
		o.Pings++
		o.Delay = delay
		o.Uptime = req.Uptime
		o.Memory = req.Memory
		o.CPU = req.CPU
		if dc.Token != "" {
			o.Token = dc.Token
		}
		if dc.ClientID != "" {
			o.ClientID = dc.ClientID
		}
	})
	if err != nil {
		return nil, nil, err
	}

	if s.queue != nil {
		cmds, err := s.queue.Acquire(ctx, dev.Code, maxPulledCommands)
		if err != nil {
			s.lg.Warn().Err(err).Str("code", dev.Code).Msg("acquire queued commands")
		}
		resp.Commands = cmds
	}

	s.touchSession(dev.Code)
	metrics.DevicePings.Inc()
	return online, resp, nil
}

// rotateToken issues a new token once the presented one has used up half its lifetime.
func (s *Service) rotateToken(dev *Device, tokenString, clientID string, now time.Time) *token.Model {
	if tokenString == "" {
		return nil
	}
	claims, _ := s.tokens.DecodeTokenWithError(tokenString, s.cfg.TokenSecret)
	if claims == nil || claims.Subject != dev.Code {
		return nil
	}
	if claims.ExpiresAt.Sub(now) >= s.cfg.TokenExpire/2 {
		return nil
	}
	if clientID == "" {
		clientID = claims.ClientID
	}
	tk, err := s.tokens.IssueToken(dev.Code, s.cfg.TokenSecret, s.cfg.TokenExpire, clientID)
	if err != nil {
		s.lg.Warn().Err(err).Str("code", dev.Code).Msg("rotate token")
		return nil
	}
	return tk
}

func (s *Service) recordDelay(ms int) {
	s.delayMu.Lock()
	if s.delay == 0 {
		s.delay = float64(ms)
	} else {
		s.delay = (s.delay*7 + float64(ms)) / 8
	}
	d := s.delay
	s.delayMu.Unlock()
	metrics.PingDelay.Set(d)
}

// Delay is the running average heartbeat delay in milliseconds.
func (s *Service) Delay() float64 {
	s.delayMu.Lock()
	defer s.delayMu.Unlock()
	return s.delay
}

// SetOnline flips the persistent-channel flag of the device's online record.
func (s *Service) SetOnline(ctx context.Context, dev *Device, online bool, tokenString, clientID, ip string) (*Online, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrArgument)
	}
	sid := OnlineSessionID(dev.ID, ip)
	o, err := s.findOnline(ctx, sid)
	if err != nil {
		return nil, err
	}
	if o == nil && !online {
		return nil, nil
	}

	dc := acquireContext()
	defer releaseContext(dc)
	dc.Code, dc.Device, dc.Token, dc.ClientID, dc.IP = dev.Code, dev, tokenString, clientID, ip

	return s.upsertOnline(ctx, dc, s.now(), func(o *Online) {
		o.Connected = online
		if dc.Token != "" {
			o.Token = dc.Token
		}
		if dc.ClientID != "" {
			o.ClientID = dc.ClientID
		}
	})
}

// SendCommand publishes cmd to the device with code and returns the bus delivery count.
func (s *Service) SendCommand(ctx context.Context, code string, cmd *command.Model) (int, error) {
	if err := prepareCommand(code, cmd); err != nil {
		return 0, err
	}
	return s.sessions.PublishAsync(ctx, code, cmd, "")
}

// SendCommandAndWait publishes cmd and waits up to timeout for the device's
// reply. A nil reply with nil error means nobody answered in time.
func (s *Service) SendCommandAndWait(ctx context.Context, code string, cmd *command.Model, timeout time.Duration) (*command.Reply, error) {
	if err := prepareCommand(code, cmd); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = s.cfg.ReplyTimeout
	}
	if err := s.routeReplies(); err != nil {
		return nil, err
	}

	ch := s.replies.register(code, cmd.ID)
	if _, err := s.sessions.PublishAsync(ctx, code, cmd, ""); err != nil {
		s.replies.unregister(code, cmd.ID)
		return nil, err
	}
	return s.replies.wait(ctx, code, cmd.ID, ch, timeout)
}

// QueueCommand parks cmd until the device's next heartbeat pulls it.
func (s *Service) QueueCommand(ctx context.Context, code string, cmd *command.Model) error {
	if err := prepareCommand(code, cmd); err != nil {
		return err
	}
	if s.queue == nil {
		return errors.New("no command queue configured")
	}
	return s.queue.Push(ctx, code, cmd)
}

func prepareCommand(code string, cmd *command.Model) error {
	if code == "" || cmd == nil || cmd.Command == "" {
		return fmt.Errorf("%w: command needs a device code and a name", ErrArgument)
	}
	if !session.ValidCode(code) {
		return fmt.Errorf("%w: device code %q is not routable", ErrArgument, code)
	}
	if cmd.ID == 0 {
		cmd.ID = command.NextID()
	}
	cmd.Normalize()
	return nil
}

// CommandReply takes a device's answer to a command and wakes the sender if
// one is waiting. Replies nobody waits for here are forwarded on the reply
// topic, where the sending process picks them up. It always counts as processed.
func (s *Service) CommandReply(ctx context.Context, dev *Device, reply *command.Reply, ip string) (int, error) {
	if dev == nil || reply == nil || reply.ID == 0 {
		return 0, fmt.Errorf("%w: reply needs a command id", ErrArgument)
	}

	route := "local"
	if !s.replies.resolve(dev.Code, reply) {
		route = "forwarded"
		if err := s.forwardReply(ctx, dev.Code, reply); err != nil {
			route = "dropped"
			s.lg.Warn().Err(err).Str("code", dev.Code).Int64("id", reply.ID).Msg("forward command reply")
		}
	}
	metrics.CommandReplies.WithLabelValues(route).Inc()
	s.lg.Debug().Str("code", dev.Code).Int64("id", reply.ID).Str("status", reply.Status).
		Str("route", route).Str("ip", ip).Msg("command reply")
	return 1, nil
}

func (s *Service) forwardReply(ctx context.Context, code string, reply *command.Reply) error {
	if s.sessions == nil {
		return errors.New("no session manager")
	}
	b, err := s.sessions.Bus()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	_, err = b.Publish(ctx, s.cfg.ReplyTopic, session.EncodeFrame(code, string(payload)))
	return err
}

// routeReplies subscribes this service to the reply topic once, before its
// first wait, so replies landing on other processes still reach the waiter.
func (s *Service) routeReplies() error {
	s.replyMu.Lock()
	defer s.replyMu.Unlock()
	if s.replyRouted {
		return nil
	}
	b, err := s.sessions.Bus()
	if err != nil {
		return err
	}
	if err := b.Subscribe(s.cfg.ReplyTopic, s.onReplyFrame); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.ReplyTopic, err)
	}
	s.replyRouted = true
	return nil
}

func (s *Service) onReplyFrame(_ context.Context, frame string) {
	code, payload, ok := session.SplitFrame(frame)
	if !ok {
		s.lg.Warn().Str("frame", frame).Msg("drop reply frame without device code")
		return
	}
	var r command.Reply
	if err := json.Unmarshal([]byte(payload), &r); err != nil || r.ID == 0 {
		s.lg.Warn().Str("code", code).Msg("drop undecodable reply frame")
		return
	}
	if s.replies.resolve(code, &r) {
		metrics.CommandReplies.WithLabelValues("routed").Inc()
	}
}

// PostEvents stores the well-formed events of a batch and returns how many were accepted.
func (s *Service) PostEvents(ctx context.Context, dev *Device, events []*Event, ip string) (int, error) {
	if dev == nil {
		return 0, fmt.Errorf("%w: nil device", ErrArgument)
	}
	now := s.now()
	accepted := make([]*Event, 0, len(events))
	for _, e := range events {
		if e == nil || e.Name == "" {
			continue
		}
		e.DeviceID = dev.ID
		e.Code = dev.Code
		e.IP = ip
		e.CreatedAt = now
		if e.Time <= 0 {
			e.Time = now.UnixMilli()
		}
		accepted = append(accepted, e)
	}
	if skipped := len(events) - len(accepted); skipped > 0 {
		s.lg.Warn().Str("code", dev.Code).Int("skipped", skipped).Msg("malformed events skipped")
	}
	if len(accepted) == 0 {
		return 0, nil
	}
	if s.st.Events != nil {
		if err := s.st.Events.WriteEvents(ctx, accepted); err != nil {
			return 0, fmt.Errorf("write events: %w", err)
		}
	}
	return len(accepted), nil
}

// Upgrade returns the newest release above the device's version, or nil.
func (s *Service) Upgrade(ctx context.Context, dev *Device, channel, ip string) (*Release, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrArgument)
	}
	if s.st.Releases == nil {
		return nil, nil
	}
	list, err := s.st.Releases.Releases(ctx, dev.Code, channel)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}

	var best *Release
	for _, r := range list {
		v := canonical(r.Version)
		if v == "" {
			continue
		}
		if best == nil || semver.Compare(v, canonical(best.Version)) > 0 {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	if cur := canonical(dev.Version); cur != "" && semver.Compare(canonical(best.Version), cur) <= 0 {
		return nil, nil
	}
	s.audit(ctx, dev, "Upgrade", true, fmt.Sprintf("%s -> %s", dev.Version, best.Version), ip, channel)
	return best, nil
}

func canonical(v string) string {
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// Logout drops the online record and adds its lifetime to the device's online time.
func (s *Service) Logout(ctx context.Context, dev *Device, reason, source, clientID, ip string) (*Online, error) {
	fail := func(a Auditable, err error) (*Online, error) {
		s.audit(ctx, a, "Logout", false, err.Error(), ip, source)
		return nil, err
	}
	if dev == nil {
		return fail(unknownDevice{}, fmt.Errorf("%w: nil device", ErrArgument))
	}
	now := s.now()
	sid := OnlineSessionID(dev.ID, ip)
	online, err := s.findOnline(ctx, sid)
	if err != nil {
		return fail(dev, err)
	}

	remark := reason
	if online != nil {
		if err := s.st.Onlines.Delete(ctx, sid); err != nil {
			return fail(dev, fmt.Errorf("delete online %s: %w", sid, err))
		}
		dev.OnlineTime += int64(now.Sub(online.CreatedAt) / time.Second)
		dev.LastActive = now
		if err := s.st.Devices.Save(ctx, dev); err != nil {
			return fail(dev, fmt.Errorf("save device %s: %w", dev.Code, err))
		}
		remark = fmt.Sprintf("%s; online since %s, last active %s",
			reason, online.CreatedAt.UTC().Format(time.RFC3339), online.UpdatedAt.UTC().Format(time.RFC3339))
	}
	if sess := s.sessions.Get(dev.Code); sess != nil {
		remark = fmt.Sprintf("%s; session created %s, last active %s",
			remark, sess.CreatedAt().UTC().Format(time.RFC3339), sess.LastActive().UTC().Format(time.RFC3339))
		if err := sess.Close("logout: " + reason); err != nil {
			s.lg.Warn().Err(err).Str("code", dev.Code).Msg("session close")
		}
	}
	s.audit(ctx, dev, "Logout", true, remark, ip, source)
	return online, nil
}

func (s *Service) findOnline(ctx context.Context, sid string) (*Online, error) {
	o, err := s.st.Onlines.Find(ctx, sid)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find online %s: %w", sid, err)
	}
	return o, nil
}

// upsertOnline loads or creates the online record of dc's device and address,
// applies update and saves it.
func (s *Service) upsertOnline(ctx context.Context, dc *DeviceContext, now time.Time, update func(*Online)) (*Online, error) {
	dev := dc.Device
	sid := OnlineSessionID(dev.ID, dc.IP)
	o, err := s.findOnline(ctx, sid)
	if err != nil {
		return nil, err
	}
	if o == nil {
		o = &Online{
			SessionID: sid,
			DeviceID:  dev.ID,
			Code:      dev.Code,
			CreatedAt: now,
		}
	}
	o.Name = dev.Name
	o.IP = dc.IP
	o.UpdatedAt = now
	if update != nil {
		update(o)
	}
	if err := s.st.Onlines.Save(ctx, o); err != nil {
		return nil, fmt.Errorf("save online %s: %w", sid, err)
	}
	dc.Online = o
	return o, nil
}

type toucher interface{ Touch() }

func (s *Service) touchSession(code string) {
	if s.sessions == nil {
		return
	}
	if t, ok := s.sessions.Get(code).(toucher); ok {
		t.Touch()
	}
}

func (s *Service) audit(ctx context.Context, a Auditable, action string, success bool, remark, ip, source string) {
	h := a.NewHistory(action, success, remark, ip)
	h.Source = source
	h.CreatedAt = s.now()
	if err := s.st.History.Write(ctx, h); err != nil {
		s.lg.Warn().Err(err).Str("code", h.Code).Str("action", action).Msg("write history")
	}
}
