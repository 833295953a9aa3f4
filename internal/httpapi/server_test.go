package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.mau.fi/whatsmeow/types"

	"wabridge/internal/whatsapp"
)

type fakeSender struct {
	status     whatsapp.SessionStatus
	resolveErr error
	sendErr    error

	resolved  []string
	texts     []string
	quotes    []*whatsapp.Quote
	reactions []string
	images    [][]byte
	captions  []string
	mimetypes []string
	documents []string
	voices    int
	locations [][2]float64
	contacts  []string
	edits     []string
	deletes   []string
}

func (f *fakeSender) ResolveJID(ctx context.Context, recipient string) (types.JID, error) {
	f.resolved = append(f.resolved, recipient)
	if f.resolveErr != nil {
		return types.JID{}, f.resolveErr
	}
	return types.NewJID("4917700000022", types.DefaultUserServer), nil
}

func (f *fakeSender) Status() whatsapp.SessionStatus { return f.status }

func (f *fakeSender) SendText(ctx context.Context, to types.JID, text string, quote *whatsapp.Quote) (string, error) {
	f.texts = append(f.texts, text)
	f.quotes = append(f.quotes, quote)
	return "3EB0API1", f.sendErr
}

func (f *fakeSender) SendReaction(ctx context.Context, chat, sender types.JID, messageID, emoji string) error {
	f.reactions = append(f.reactions, emoji)
	return f.sendErr
}

func (f *fakeSender) SendImage(ctx context.Context, to types.JID, data []byte, mimetype, caption string) (string, error) {
	f.images = append(f.images, data)
	f.mimetypes = append(f.mimetypes, mimetype)
	f.captions = append(f.captions, caption)
	return "3EB0API2", f.sendErr
}

func (f *fakeSender) SendDocument(ctx context.Context, to types.JID, data []byte, mimetype, filename, caption string) (string, error) {
	f.documents = append(f.documents, filename)
	return "3EB0API3", f.sendErr
}

func (f *fakeSender) SendVoice(ctx context.Context, to types.JID, audio []byte, mimetype string) (string, error) {
	f.voices++
	return "3EB0API4", f.sendErr
}

func (f *fakeSender) SendLocation(ctx context.Context, to types.JID, lat, lng float64, name, address string) (string, error) {
	f.locations = append(f.locations, [2]float64{lat, lng})
	return "3EB0API5", f.sendErr
}

func (f *fakeSender) SendContact(ctx context.Context, to types.JID, name, phone, email, org string) (string, error) {
	f.contacts = append(f.contacts, name)
	return "3EB0API6", f.sendErr
}

func (f *fakeSender) EditMessage(ctx context.Context, chat types.JID, messageID, newText string) error {
	f.edits = append(f.edits, messageID)
	return f.sendErr
}

func (f *fakeSender) DeleteMessage(ctx context.Context, chat types.JID, messageID string) error {
	f.deletes = append(f.deletes, messageID)
	return f.sendErr
}

type fakeHealth struct{ err error }

func (f *fakeHealth) Health(ctx context.Context) error { return f.err }

func testServer(sender *fakeSender, apiKey string) *Server {
	return NewServer(ServerConfig{
		APIKey: apiKey,
		Sender: sender,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	return m
}

func TestSendText_Success(t *testing.T) {
	sender := &fakeSender{}
	h := testServer(sender, "").Handler()

	rr := postJSON(t, h, "/whatsapp/send-text", `{"phoneNumber":"+4917712345","text":"hello"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := decodeBody(t, rr)
	if body["success"] != true || body["message_id"] != "3EB0API1" {
		t.Errorf("unexpected response %v", body)
	}
	if len(sender.resolved) != 1 || sender.resolved[0] != "+4917712345" {
		t.Errorf("expected recipient resolved, got %v", sender.resolved)
	}
	if len(sender.texts) != 1 || sender.texts[0] != "hello" {
		t.Errorf("expected text sent, got %v", sender.texts)
	}
	if sender.quotes[0] != nil {
		t.Errorf("expected no quote, got %+v", sender.quotes[0])
	}
}

func TestSendText_QuotedMessage(t *testing.T) {
	sender := &fakeSender{}
	h := testServer(sender, "").Handler()

	rr := postJSON(t, h, "/whatsapp/send-text",
		`{"phoneNumber":"+4917712345","text":"re: that","quoted_message_id":"3EB0ORIG"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if q := sender.quotes[0]; q == nil || q.MessageID != "3EB0ORIG" {
		t.Errorf("expected quote 3EB0ORIG, got %+v", q)
	}
}

func TestSendText_MissingFields(t *testing.T) {
	h := testServer(&fakeSender{}, "").Handler()

	rr := postJSON(t, h, "/whatsapp/send-text", `{"phoneNumber":"+4917712345"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestSendText_InvalidJSON(t *testing.T) {
	h := testServer(&fakeSender{}, "").Handler()

	rr := postJSON(t, h, "/whatsapp/send-text", "not json")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestSendText_NotConnected(t *testing.T) {
	sender := &fakeSender{resolveErr: whatsapp.ErrNotConnected}
	h := testServer(sender, "").Handler()

	rr := postJSON(t, h, "/whatsapp/send-text", `{"phoneNumber":"+4917712345","text":"hello"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

func TestSendText_UnregisteredNumber(t *testing.T) {
	sender := &fakeSender{resolveErr: &whatsapp.NotRegisteredError{Number: "4917712345"}}
	h := testServer(sender, "").Handler()

	rr := postJSON(t, h, "/whatsapp/send-text", `{"phoneNumber":"+4917712345","text":"hello"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestAuth_RejectsBadToken(t *testing.T) {
	h := testServer(&fakeSender{}, "secret-token").Handler()

	rr := postJSON(t, h, "/whatsapp/send-text", `{"phoneNumber":"+49177","text":"hi"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest("POST", "/whatsapp/send-text",
		strings.NewReader(`{"phoneNumber":"+49177","text":"hi"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", rr.Code)
	}
}

func TestAuth_AcceptsBearerToken(t *testing.T) {
	h := testServer(&fakeSender{}, "secret-token").Handler()

	req := httptest.NewRequest("POST", "/whatsapp/send-text",
		strings.NewReader(`{"phoneNumber":"+49177","text":"hi"}`))
	req.Header.Set("Authorization", "Bearer secret-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAuth_HealthStaysOpen(t *testing.T) {
	h := testServer(&fakeSender{}, "secret-token").Handler()

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected unauthenticated health check, got %d", rr.Code)
	}
}

func TestSendReaction_Success(t *testing.T) {
	sender := &fakeSender{}
	h := testServer(sender, "").Handler()

	rr := postJSON(t, h, "/whatsapp/send-reaction",
		`{"phoneNumber":"+4917712345","message_id":"3EB0ORIG","emoji":"👍"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(sender.reactions) != 1 || sender.reactions[0] != "👍" {
		t.Errorf("expected reaction sent, got %v", sender.reactions)
	}
}

func TestSendImage_Multipart(t *testing.T) {
	sender := &fakeSender{}
	h := testServer(sender, "").Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "photo.jpg")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
	mw.WriteField("phoneNumber", "+4917712345")
	mw.WriteField("caption", "look at this")
	mw.Close()

	req := httptest.NewRequest("POST", "/whatsapp/send-image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(sender.images) != 1 || len(sender.images[0]) != 4 {
		t.Fatalf("expected 4 image bytes, got %v", sender.images)
	}
	if sender.captions[0] != "look at this" {
		t.Errorf("expected caption forwarded, got %q", sender.captions[0])
	}
}

func TestSendImage_MissingFile(t *testing.T) {
	h := testServer(&fakeSender{}, "").Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("phoneNumber", "+4917712345")
	mw.Close()

	req := httptest.NewRequest("POST", "/whatsapp/send-image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestSendDocument_CarriesFilename(t *testing.T) {
	sender := &fakeSender{}
	h := testServer(sender, "").Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "report.pdf")
	fw.Write([]byte("%PDF-1.7"))
	mw.WriteField("phoneNumber", "+4917712345")
	mw.Close()

	req := httptest.NewRequest("POST", "/whatsapp/send-document", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(sender.documents) != 1 || sender.documents[0] != "report.pdf" {
		t.Errorf("expected filename forwarded, got %v", sender.documents)
	}
}

func TestSendLocation_Success(t *testing.T) {
	sender := &fakeSender{}
	h := testServer(sender, "").Handler()

	rr := postJSON(t, h, "/whatsapp/send-location",
		`{"phoneNumber":"+4917712345","latitude":52.52,"longitude":13.405,"name":"Berlin"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(sender.locations) != 1 || sender.locations[0][0] != 52.52 {
		t.Errorf("expected coordinates forwarded, got %v", sender.locations)
	}
}

func TestSendLocation_OutOfRange(t *testing.T) {
	h := testServer(&fakeSender{}, "").Handler()

	rr := postJSON(t, h, "/whatsapp/send-location",
		`{"phoneNumber":"+4917712345","latitude":91.0,"longitude":13.405}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestSendContact_Success(t *testing.T) {
	sender := &fakeSender{}
	h := testServer(sender, "").Handler()

	rr := postJSON(t, h, "/whatsapp/send-contact",
		`{"phoneNumber":"+4917712345","contactName":"Ada Lovelace","contactPhone":"+4915500000042"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(sender.contacts) != 1 || sender.contacts[0] != "Ada Lovelace" {
		t.Errorf("expected contact forwarded, got %v", sender.contacts)
	}
}

func TestEditMessage_Success(t *testing.T) {
	sender := &fakeSender{}
	h := testServer(sender, "").Handler()

	rr := postJSON(t, h, "/whatsapp/edit-message",
		`{"phoneNumber":"+4917712345","message_id":"3EB0ORIG","new_text":"fixed typo"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(sender.edits) != 1 || sender.edits[0] != "3EB0ORIG" {
		t.Errorf("expected edit forwarded, got %v", sender.edits)
	}
}

func TestDeleteMessage_Success(t *testing.T) {
	sender := &fakeSender{}
	h := testServer(sender, "").Handler()

	req := httptest.NewRequest("DELETE", "/whatsapp/delete-message",
		strings.NewReader(`{"phoneNumber":"+4917712345","message_id":"3EB0ORIG"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(sender.deletes) != 1 || sender.deletes[0] != "3EB0ORIG" {
		t.Errorf("expected delete forwarded, got %v", sender.deletes)
	}
}

func TestStatus_ReportsSession(t *testing.T) {
	sender := &fakeSender{status: whatsapp.SessionStatus{
		Connected: true,
		LoggedIn:  true,
		JID:       "4915500000001:3@s.whatsapp.net",
		PushName:  "Bridge",
	}}
	h := testServer(sender, "").Handler()

	req := httptest.NewRequest("GET", "/whatsapp/status", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["connected"] != true || body["push_name"] != "Bridge" {
		t.Errorf("unexpected status %v", body)
	}
}

func TestHealth_ReportsDegradedBridge(t *testing.T) {
	srv := NewServer(ServerConfig{
		Sender: &fakeSender{},
		Bridge: &fakeHealth{err: errors.New("connection refused")},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "degraded" {
		t.Errorf("expected degraded status, got %v", body)
	}
}

func TestHealth_OKWithHealthyBridge(t *testing.T) {
	srv := NewServer(ServerConfig{
		Sender: &fakeSender{},
		Bridge: &fakeHealth{},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["ai_api"] != "ok" {
		t.Errorf("unexpected health body %v", body)
	}
}
