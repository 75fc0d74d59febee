package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/conduit/internal/events"
	"github.com/energizer-project/conduit/internal/network"
	"github.com/energizer-project/conduit/internal/protocol"
	"github.com/energizer-project/conduit/internal/util"
)

const (
	verifyTokenLength  = 4
	sharedSecretLength = 16
)

type loginStep int

const (
	awaitingLogin loginStep = iota
	awaitingEncryption
	loginDone
)

// loginHandler runs the login exchange. Encryption is only requested in
// online mode; offline players get a name-derived UUID.
type loginHandler struct {
	network.NopHandler
	conn *network.Connection
	env  *Environment

	step        loginStep
	username    string
	verifyToken []byte

	timerMu sync.Mutex
	timer   *time.Timer
}

func newLoginHandler(conn *network.Connection, env *Environment) *loginHandler {
	return &loginHandler{conn: conn, env: env}
}

func (h *loginHandler) Activated(context.Context) error {
	timeout := h.env.Config.GetProxy().LoginTimeout()
	if timeout <= 0 {
		return nil
	}
	h.timerMu.Lock()
	h.timer = time.AfterFunc(timeout, func() {
		if h.conn.State() == protocol.StatePlay || h.conn.Closed() {
			return
		}
		h.conn.Logger().Debug().Dur("timeout", timeout).Msg("login timed out")
		h.env.Metrics.RecordLogin("timeout")
		disconnectWith(h.conn, "Took too long to log in")
	})
	h.timerMu.Unlock()
	return nil
}

func (h *loginHandler) stopTimer() {
	h.timerMu.Lock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.timerMu.Unlock()
}

func (h *loginHandler) Deactivated()  { h.stopTimer() }
func (h *loginHandler) Disconnected() { h.stopTimer() }

func (h *loginHandler) Handle(ctx context.Context, p protocol.Packet) (bool, error) {
	switch pkt := p.(type) {
	case *protocol.ServerLogin:
		return true, h.handleLogin(ctx, pkt)
	case *protocol.EncryptionResponse:
		return true, h.handleEncryptionResponse(ctx, pkt)
	}
	return false, nil
}

func (h *loginHandler) handleLogin(ctx context.Context, pkt *protocol.ServerLogin) error {
	if h.step != awaitingLogin {
		return protocol.Violationf("unexpected login start")
	}
	if pkt.Username == "" {
		return protocol.Violationf("empty username")
	}
	h.username = pkt.Username
	h.conn.WithLogFields(func(c zerolog.Context) zerolog.Context {
		return c.Str("username", pkt.Username)
	})

	pre := &events.PreLoginPayload{
		Username: pkt.Username,
		RemoteIP: h.conn.RemoteIP(),
		Version:  h.conn.ProtocolVersion(),
	}
	if reason, denied := h.fire(ctx, events.EventPreLogin, pre); denied {
		h.reject(ctx, reason)
		return nil
	}

	online := h.env.Config.GetProxy().OnlineMode
	switch pre.Result {
	case events.PreLoginForceOnline:
		online = true
	case events.PreLoginForceOffline:
		online = false
	}

	if !online {
		h.step = loginDone
		profile := protocol.GameProfile{ID: util.OfflineUUID(pkt.Username), Name: pkt.Username}
		return h.finish(ctx, profile, false)
	}

	if h.env.Key == nil {
		return errors.New("online mode requires a server key")
	}
	token, err := util.RandomBytes(verifyTokenLength)
	if err != nil {
		return fmt.Errorf("failed to generate verify token: %w", err)
	}
	h.verifyToken = token
	h.step = awaitingEncryption
	return h.conn.Write(&protocol.EncryptionRequest{
		ServerID:    "",
		PublicKey:   h.env.Key.PublicDER,
		VerifyToken: token,
	})
}

func (h *loginHandler) handleEncryptionResponse(ctx context.Context, pkt *protocol.EncryptionResponse) error {
	if h.step != awaitingEncryption {
		return protocol.Violationf("unexpected encryption response")
	}
	h.step = loginDone

	token, err := h.env.Key.Decrypt(pkt.VerifyToken)
	if err != nil {
		return protocol.Violationf("undecryptable verify token: %v", err)
	}
	if subtle.ConstantTimeCompare(token, h.verifyToken) != 1 {
		h.conn.Logger().Warn().Msg("verify token mismatch, possible tampering")
		h.env.Metrics.RecordLogin("token_mismatch")
		h.env.Metrics.RecordError("token_mismatch")
		h.failed(ctx, ErrTokenMismatch.Error())
		h.conn.Close()
		return nil
	}

	secret, err := h.env.Key.Decrypt(pkt.SharedSecret)
	if err != nil {
		return protocol.Violationf("undecryptable shared secret: %v", err)
	}
	if len(secret) != sharedSecretLength {
		return protocol.Violationf("shared secret of %d bytes", len(secret))
	}
	if err := h.conn.EnableEncryption(secret); err != nil {
		return fmt.Errorf("failed to enable encryption: %w", err)
	}

	profile, err := h.authenticate(ctx, secret)
	if err != nil {
		reason := "Failed to verify username!"
		if errors.Is(err, ErrAuthTimeout) {
			reason = "Authentication servers did not respond in time, try again later."
		}
		h.conn.Logger().Info().Err(err).Msg("authentication failed")
		h.reject(ctx, reason)
		return nil
	}
	return h.finish(ctx, *profile, true)
}

// authenticate asks the identity service whether the client joined with the
// server id derived from secret. Failures are ErrAuthTimeout or ErrAuthFailure.
func (h *loginHandler) authenticate(ctx context.Context, secret []byte) (*protocol.GameProfile, error) {
	if h.env.Identity == nil {
		return nil, fmt.Errorf("%w: no identity service", ErrAuthFailure)
	}
	serverID := util.ServerIDHash("", secret, h.env.Key.PublicDER)

	authCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout := h.env.Config.GetProxy().AuthTimeout(); timeout > 0 {
		authCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	started := time.Now()
	profile, err := h.env.Identity.HasJoined(authCtx, h.username, serverID, h.conn.RemoteIP())
	h.env.Metrics.RecordAuthDuration(time.Since(started))
	switch {
	case err == nil && profile != nil:
		return profile, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(authCtx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %v", ErrAuthTimeout, err)
	case err == nil:
		return nil, fmt.Errorf("%w: empty profile", ErrAuthFailure)
	default:
		return nil, fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
}

// finish runs once the profile is known: Login event, permissions,
// registration, compression, LoginSuccess and the switch to Play.
func (h *loginHandler) finish(ctx context.Context, profile protocol.GameProfile, online bool) error {
	if reason, denied := h.fire(ctx, events.EventLogin, events.LoginPayload{
		Profile:    profile,
		RemoteIP:   h.conn.RemoteIP(),
		OnlineMode: online,
	}); denied {
		h.reject(ctx, reason)
		return nil
	}

	player := newPlayer(h.conn, profile, online)
	perms := &events.PermissionsSetupPayload{Subject: profile.Name}
	h.fire(ctx, events.EventPermissionsSetup, perms)
	player.permissions = perms.Provider

	proxy := h.env.Config.GetProxy()
	if proxy.MaxPlayers > 0 && h.env.Players.Count() >= proxy.MaxPlayers {
		h.reject(ctx, "The server is full!")
		return nil
	}
	if err := h.env.Players.Add(player); err != nil {
		h.reject(ctx, "You are already connected to this proxy!")
		return nil
	}

	if err := h.enterPlay(player); err != nil {
		h.env.Players.Remove(player)
		return err
	}

	if h.env.Whitelist != nil {
		h.env.Whitelist.Add(h.conn.RemoteIP())
	}
	h.env.Metrics.RecordLogin("success")
	h.env.Metrics.SetOnlinePlayers(h.env.Players.Count())
	h.conn.Logger().Info().
		Str("uuid", profile.ID.String()).
		Bool("online_mode", online).
		Msg("player logged in")

	h.env.emit(ctx, events.EventPostLogin, events.PostLoginPayload{
		Profile:  profile,
		RemoteIP: h.conn.RemoteIP(),
		Version:  h.conn.ProtocolVersion(),
	})

	if backend := proxy.Backend; backend != "" {
		go func() {
			if err := ConnectBackend(ctx, h.env, player, backend); err != nil {
				player.Connection().Logger().Warn().Err(err).Str("backend", backend).Msg("backend connection failed")
				player.Disconnect("Could not connect to the server")
			}
		}()
	}
	return nil
}

// enterPlay negotiates compression, acknowledges the login and binds the
// play handler.
func (h *loginHandler) enterPlay(player *Player) error {
	threshold := h.env.Config.GetCompression().Threshold
	if !h.conn.ProtocolVersion().Legacy() && threshold >= 0 {
		if err := h.conn.Write(&protocol.SetCompression{Threshold: threshold}); err != nil {
			return err
		}
		if err := h.conn.SetCompressionThreshold(threshold); err != nil {
			return fmt.Errorf("failed to enable compression: %w", err)
		}
	}

	profile := player.Profile()
	if err := h.conn.Write(&protocol.ServerLoginSuccess{
		UUID:     profile.ID,
		Username: profile.Name,
	}); err != nil {
		return err
	}
	h.conn.SetState(protocol.StatePlay)
	return h.conn.SetSessionHandler(newPlayHandler(player, h.env))
}

func (h *loginHandler) reject(ctx context.Context, reason string) {
	h.failed(ctx, reason)
	disconnectWith(h.conn, reason)
}

func (h *loginHandler) failed(ctx context.Context, reason string) {
	h.env.emit(ctx, events.EventLoginFailed, events.LoginFailedPayload{
		Username: h.username,
		RemoteIP: h.conn.RemoteIP(),
		Reason:   reason,
	})
}

// fire emits an awaited event. Only a denial stops the login; other handler
// errors are logged by the bus and ignored.
func (h *loginHandler) fire(ctx context.Context, t events.EventType, payload interface{}) (string, bool) {
	err := h.env.emitSync(ctx, t, payload)
	if err == nil {
		return "", false
	}
	if reason, ok := events.DenialReason(err); ok {
		return reason, true
	}
	if ctx.Err() != nil {
		return "Login cancelled", true
	}
	return "", false
}
