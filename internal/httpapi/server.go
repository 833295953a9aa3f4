// Package httpapi is the REST control surface: other systems (including the
// AI collaborator's own tools) use it to send messages through the running
// WhatsApp session.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow/types"

	"wabridge/internal/metrics"
	"wabridge/internal/whatsapp"
)

const (
	maxBodyBytes   = 1 << 20  // JSON bodies
	maxUploadBytes = 32 << 20 // multipart media uploads
)

// Sender is the WhatsApp surface the REST API drives. *whatsapp.Session
// implements it.
type Sender interface {
	ResolveJID(ctx context.Context, recipient string) (types.JID, error)
	Status() whatsapp.SessionStatus
	SendText(ctx context.Context, to types.JID, text string, quote *whatsapp.Quote) (string, error)
	SendReaction(ctx context.Context, chat, sender types.JID, messageID, emoji string) error
	SendImage(ctx context.Context, to types.JID, data []byte, mimetype, caption string) (string, error)
	SendDocument(ctx context.Context, to types.JID, data []byte, mimetype, filename, caption string) (string, error)
	SendVoice(ctx context.Context, to types.JID, audio []byte, mimetype string) (string, error)
	SendLocation(ctx context.Context, to types.JID, lat, lng float64, name, address string) (string, error)
	SendContact(ctx context.Context, to types.JID, name, phone, email, org string) (string, error)
	EditMessage(ctx context.Context, chat types.JID, messageID, newText string) error
	DeleteMessage(ctx context.Context, chat types.JID, messageID string) error
}

// HealthChecker reports whether the AI API answers. *bridge.Client
// implements it.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ServerConfig configures the REST server.
type ServerConfig struct {
	Addr   string // listen address, default :8080
	APIKey string // optional bearer token; empty disables auth
	Sender Sender
	Bridge HealthChecker // optional, reported by /health
	Logger *slog.Logger
}

// Server serves the control API.
type Server struct {
	addr   string
	apiKey string
	sender Sender
	bridge HealthChecker
	logger *slog.Logger
	server *http.Server
}

// NewServer creates the REST server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		addr:   cfg.Addr,
		apiKey: cfg.APIKey,
		sender: cfg.Sender,
		bridge: cfg.Bridge,
		logger: cfg.Logger,
	}
}

// Handler builds the route table. Exposed so tests can drive it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /whatsapp/status", s.handleStatus)
	mux.Handle("GET /metrics", metrics.Collector.Handler())

	mux.HandleFunc("POST /whatsapp/send-text", s.auth(s.handleSendText))
	mux.HandleFunc("POST /whatsapp/send-reaction", s.auth(s.handleSendReaction))
	mux.HandleFunc("POST /whatsapp/send-image", s.auth(s.handleSendImage))
	mux.HandleFunc("POST /whatsapp/send-document", s.auth(s.handleSendDocument))
	mux.HandleFunc("POST /whatsapp/send-voice", s.auth(s.handleSendVoice))
	mux.HandleFunc("POST /whatsapp/send-location", s.auth(s.handleSendLocation))
	mux.HandleFunc("POST /whatsapp/send-contact", s.auth(s.handleSendContact))
	mux.HandleFunc("POST /whatsapp/edit-message", s.auth(s.handleEditMessage))
	mux.HandleFunc("DELETE /whatsapp/delete-message", s.auth(s.handleDeleteMessage))

	return mux
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("rest api listening", "addr", s.addr, "auth", s.apiKey != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("rest api: %w", err)
	}
}

// auth wraps send handlers with bearer-token checking and request logging.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.APIRequestsTotal.Inc()
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)

		if s.apiKey != "" {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.apiKey {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
		}

		s.logger.Debug("api request", "request_id", reqID, "method", r.Method, "path", r.URL.Path)
		next(w, r)
	}
}

// --- request/response types ---

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
}

type sendTextRequest struct {
	PhoneNumber     string `json:"phoneNumber"`
	Text            string `json:"text"`
	QuotedMessageID string `json:"quoted_message_id"`
}

type sendReactionRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	MessageID   string `json:"message_id"`
	Emoji       string `json:"emoji"`
}

type sendLocationRequest struct {
	PhoneNumber string  `json:"phoneNumber"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Name        string  `json:"name"`
	Address     string  `json:"address"`
}

type sendContactRequest struct {
	PhoneNumber  string `json:"phoneNumber"`
	ContactName  string `json:"contactName"`
	ContactPhone string `json:"contactPhone"`
	ContactEmail string `json:"contactEmail"`
	ContactOrg   string `json:"contactOrg"`
}

type editMessageRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	MessageID   string `json:"message_id"`
	NewText     string `json:"new_text"`
}

type deleteMessageRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	MessageID   string `json:"message_id"`
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.bridge != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.bridge.Health(ctx); err != nil {
			resp["status"] = "degraded"
			resp["ai_api"] = err.Error()
		} else {
			resp["ai_api"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.sender.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": st.Connected,
		"logged_in": st.LoggedIn,
		"jid":       st.JID,
		"push_name": st.PushName,
	})
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	var req sendTextRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PhoneNumber == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber and text are required")
		return
	}

	to, err := s.sender.ResolveJID(r.Context(), req.PhoneNumber)
	if err != nil {
		s.sendError(w, err)
		return
	}

	var quote *whatsapp.Quote
	if req.QuotedMessageID != "" {
		quote = &whatsapp.Quote{MessageID: req.QuotedMessageID}
	}

	id, err := s.sender.SendText(r.Context(), to, req.Text, quote)
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id})
}

func (s *Server) handleSendReaction(w http.ResponseWriter, r *http.Request) {
	var req sendReactionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PhoneNumber == "" || req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber and message_id are required")
		return
	}

	to, err := s.sender.ResolveJID(r.Context(), req.PhoneNumber)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if err := s.sender.SendReaction(r.Context(), to, types.JID{}, req.MessageID, req.Emoji); err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true})
}

func (s *Server) handleSendImage(w http.ResponseWriter, r *http.Request) {
	data, header, to, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	id, err := s.sender.SendImage(r.Context(), to, data, header.mimetype, r.FormValue("caption"))
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id})
}

func (s *Server) handleSendDocument(w http.ResponseWriter, r *http.Request) {
	data, header, to, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	id, err := s.sender.SendDocument(r.Context(), to, data, header.mimetype, header.filename, r.FormValue("caption"))
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id})
}

func (s *Server) handleSendVoice(w http.ResponseWriter, r *http.Request) {
	data, header, to, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	id, err := s.sender.SendVoice(r.Context(), to, data, header.mimetype)
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id})
}

func (s *Server) handleSendLocation(w http.ResponseWriter, r *http.Request) {
	var req sendLocationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		writeError(w, http.StatusBadRequest, "latitude/longitude out of range")
		return
	}

	to, err := s.sender.ResolveJID(r.Context(), req.PhoneNumber)
	if err != nil {
		s.sendError(w, err)
		return
	}
	id, err := s.sender.SendLocation(r.Context(), to, req.Latitude, req.Longitude, req.Name, req.Address)
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id})
}

func (s *Server) handleSendContact(w http.ResponseWriter, r *http.Request) {
	var req sendContactRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PhoneNumber == "" || req.ContactName == "" || req.ContactPhone == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber, contactName and contactPhone are required")
		return
	}

	to, err := s.sender.ResolveJID(r.Context(), req.PhoneNumber)
	if err != nil {
		s.sendError(w, err)
		return
	}
	id, err := s.sender.SendContact(r.Context(), to, req.ContactName, req.ContactPhone, req.ContactEmail, req.ContactOrg)
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id})
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PhoneNumber == "" || req.MessageID == "" || req.NewText == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber, message_id and new_text are required")
		return
	}

	to, err := s.sender.ResolveJID(r.Context(), req.PhoneNumber)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if err := s.sender.EditMessage(r.Context(), to, req.MessageID, req.NewText); err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	var req deleteMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PhoneNumber == "" || req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber and message_id are required")
		return
	}

	to, err := s.sender.ResolveJID(r.Context(), req.PhoneNumber)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if err := s.sender.DeleteMessage(r.Context(), to, req.MessageID); err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true})
}

// --- helpers ---

type uploadMeta struct {
	filename string
	mimetype string
}

// readUpload parses a media upload form: a "file" part plus a phoneNumber
// field. It resolves the recipient and writes the error response itself when
// something is off.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, uploadMeta, types.JID, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, uploadMeta{}, types.JID{}, false
	}

	phone := r.FormValue("phoneNumber")
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber is required")
		return nil, uploadMeta{}, types.JID{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return nil, uploadMeta{}, types.JID{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable file part")
		return nil, uploadMeta{}, types.JID{}, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file part is empty")
		return nil, uploadMeta{}, types.JID{}, false
	}

	to, err := s.sender.ResolveJID(r.Context(), phone)
	if err != nil {
		s.sendError(w, err)
		return nil, uploadMeta{}, types.JID{}, false
	}

	meta := uploadMeta{
		filename: header.Filename,
		mimetype: header.Header.Get("Content-Type"),
	}
	return data, meta, to, true
}

// sendError maps transport failures onto HTTP status codes.
func (s *Server) sendError(w http.ResponseWriter, err error) {
	var notRegistered *whatsapp.NotRegisteredError
	switch {
	case errors.Is(err, whatsapp.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &notRegistered):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("send failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.New("unreadable request body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("invalid JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
