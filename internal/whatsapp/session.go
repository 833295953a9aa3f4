// Package whatsapp wraps the whatsmeow client behind a Session that the rest
// of the gateway talks to: it owns the device store, the connection
// lifecycle, inbound message normalization, and all outbound sends.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	_ "modernc.org/sqlite"

	"wabridge/internal/metrics"
)

// MessageHandler receives each normalized inbound message on its own
// goroutine.
type MessageHandler func(ctx context.Context, msg *Incoming)

// SessionConfig configures the WhatsApp session.
type SessionConfig struct {
	DBPath string // sqlite file holding device keys and state
	Logger *slog.Logger
}

// Session is a single logged-in WhatsApp device.
type Session struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *slog.Logger
	handlers  []MessageHandler

	// base context for handler goroutines, set by Connect
	ctx context.Context
}

// NewSession opens the device store and builds the client. The session is
// not connected yet; call PairQR for first-time login or Connect afterwards.
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DBPath == "" {
		return nil, errors.New("whatsapp: session db path required")
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session directory: %w", err)
		}
	}

	dsn := "file:" + cfg.DBPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, newWALogger(cfg.Logger, "sqlstore"))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, newWALogger(cfg.Logger, "whatsmeow"))
	client.EnableAutoReconnect = true
	client.AutoTrustIdentity = true

	s := &Session{
		client:    client,
		container: container,
		logger:    cfg.Logger,
		ctx:       context.Background(),
	}
	client.AddEventHandler(s.handleEvent)
	return s, nil
}

// OnMessage registers a handler for inbound messages. Not safe to call after
// Connect.
func (s *Session) OnMessage(fn MessageHandler) {
	s.handlers = append(s.handlers, fn)
}

// Connect brings up the connection for an already-paired device.
func (s *Session) Connect(ctx context.Context) error {
	if s.client.Store.ID == nil {
		return ErrNotPaired
	}
	s.ctx = ctx
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}
	return nil
}

// PairQR runs first-time device pairing, rendering QR codes on stdout until
// the phone scans one or the context expires.
func (s *Session) PairQR(ctx context.Context) error {
	if s.client.Store.ID != nil {
		return fmt.Errorf("whatsapp: already paired as %s", s.client.Store.ID.User)
	}

	qrChan, err := s.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			fmt.Fprintln(os.Stdout, "Scan the code with WhatsApp on your phone.")
		case "success":
			s.logger.Info("pairing complete", "jid", s.client.Store.ID.String())
			return nil
		case "timeout":
			return errors.New("whatsapp: pairing timed out")
		default:
			if evt.Error != nil {
				return fmt.Errorf("whatsapp pairing: %w", evt.Error)
			}
		}
	}
	return ctx.Err()
}

// Disconnect tears down the connection and closes the device store.
func (s *Session) Disconnect() {
	s.client.Disconnect()
	s.container.Close()
}

// Connected reports whether the session can send messages right now.
func (s *Session) Connected() bool {
	return s.client.IsConnected() && s.client.IsLoggedIn()
}

// Self returns the account's primary JID, or the zero JID before pairing.
func (s *Session) Self() types.JID {
	if s.client.Store.ID == nil {
		return types.JID{}
	}
	return s.client.Store.ID.ToNonAD()
}

// SelfLID returns the account's hidden-user alias, used to match mentions in
// groups that address members by LID.
func (s *Session) SelfLID() types.JID {
	return s.client.Store.LID.ToNonAD()
}

// SessionStatus describes the connection for health endpoints.
type SessionStatus struct {
	Connected bool
	LoggedIn  bool
	JID       string
	PushName  string
}

// Status reports the current connection state.
func (s *Session) Status() SessionStatus {
	st := SessionStatus{
		Connected: s.client.IsConnected(),
		LoggedIn:  s.client.IsLoggedIn(),
		PushName:  s.client.Store.PushName,
	}
	if s.client.Store.ID != nil {
		st.JID = s.client.Store.ID.String()
	}
	return st
}

// Download fetches the attachment bytes for a message parsed by this session.
func (s *Session) Download(ctx context.Context, msg *Incoming) ([]byte, error) {
	if msg.raw == nil {
		return nil, errors.New("whatsapp: message has no payload")
	}
	data, err := s.client.DownloadAny(ctx, msg.raw)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return data, nil
}

func (s *Session) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		metrics.Connected.Set(1)
		s.logger.Info("whatsapp connected", "jid", s.Self().String())
		s.markAvailable()
	case *events.PushNameSetting:
		s.markAvailable()
	case *events.Disconnected:
		metrics.Connected.Set(0)
		s.logger.Warn("whatsapp disconnected")
	case *events.LoggedOut:
		metrics.Connected.Set(0)
		s.logger.Error("logged out remotely, delete the session db and pair again")
	case *events.StreamReplaced:
		metrics.Connected.Set(0)
		s.logger.Error("stream replaced, another client is using this session")
	case *events.Message:
		s.dispatchMessage(e)
	}
}

// markAvailable publishes presence so WhatsApp delivers push names and keeps
// the device visible as online.
func (s *Session) markAvailable() {
	if len(s.client.Store.PushName) == 0 {
		return
	}
	if err := s.client.SendPresence(context.Background(), types.PresenceAvailable); err != nil {
		s.logger.Warn("send presence", "error", err)
	}
}

func (s *Session) dispatchMessage(evt *events.Message) {
	msg := ParseMessage(evt)
	if msg == nil {
		return
	}
	metrics.MessagesTotal.Inc()
	for _, fn := range s.handlers {
		go fn(s.ctx, msg)
	}
}
