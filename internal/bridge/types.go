package bridge

import (
	"errors"
	"fmt"
	"strings"
)

// Conversation types accepted by the AI API.
const (
	ConversationPrivate = "private"
	ConversationGroup   = "group"
)

// Job lifecycle states reported by the AI API.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
	StatusNotFound   = "not_found"
)

// ChatRequest is the payload for POST /chat/enqueue. Attachment bytes are
// base64 strings on the wire, which encoding/json produces for []byte fields.
type ChatRequest struct {
	JID              string `json:"whatsapp_jid"`
	Message          string `json:"message"`
	ConversationType string `json:"conversation_type"`
	SenderJID        string `json:"sender_jid,omitempty"`
	SenderName       string `json:"sender_name,omitempty"`
	MessageID        string `json:"whatsapp_message_id,omitempty"`
	ImageData        []byte `json:"image_data,omitempty"`
	ImageMimetype    string `json:"image_mimetype,omitempty"`
	DocumentData     []byte `json:"document_data,omitempty"`
	DocumentMimetype string `json:"document_mimetype,omitempty"`
	DocumentFilename string `json:"document_filename,omitempty"`
	IsAutomated      bool   `json:"is_automated"`
	AutomatedSource  string `json:"automated_source,omitempty"`
}

// SubmitResult is the response from POST /chat/enqueue. Commands run
// synchronously on the API side and come back with IsCommand set plus the
// final response text; everything else gets a queued job.
type SubmitResult struct {
	IsCommand bool   `json:"is_command"`
	Response  string `json:"response"`
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// JobStatus is the response from GET /chat/job/{id}.
type JobStatus struct {
	JobID        string   `json:"job_id"`
	Status       string   `json:"status"`
	Chunks       []string `json:"chunks"`
	TotalChunks  int      `json:"total_chunks"`
	Complete     bool     `json:"complete"`
	FullResponse string   `json:"full_response"`
	Error        string   `json:"error"`
}

// Text returns the assembled response of a completed job.
func (j *JobStatus) Text() string {
	if j.FullResponse != "" {
		return j.FullResponse
	}
	return strings.Join(j.Chunks, "")
}

// SaveRequest is the payload for POST /chat/save. Save records history only
// and carries no attachments.
type SaveRequest struct {
	JID              string `json:"whatsapp_jid"`
	Message          string `json:"message"`
	ConversationType string `json:"conversation_type"`
	SenderJID        string `json:"sender_jid,omitempty"`
	SenderName       string `json:"sender_name,omitempty"`
	MessageID        string `json:"whatsapp_message_id,omitempty"`
}

// Preferences holds the per-chat voice settings from GET /preferences/{jid}.
type Preferences struct {
	TTSEnabled  bool   `json:"tts_enabled"`
	TTSLanguage string `json:"tts_language"`
	STTLanguage string `json:"stt_language"`
}

// TranscribeRequest is the multipart payload for POST /transcribe.
type TranscribeRequest struct {
	Filename string // must carry the audio extension, e.g. "voice.ogg"
	Audio    []byte
	Language string // optional ISO-639-1 hint
	JID      string // optional chat for per-chat language preferences
}

// ErrInvalidUpload reports a transcription payload rejected before any bytes
// went on the wire.
var ErrInvalidUpload = errors.New("invalid transcription upload")

// Validate checks the payload before it is encoded as a multipart form.
func (r TranscribeRequest) Validate() error {
	if len(r.Audio) == 0 {
		return fmt.Errorf("%w: empty audio", ErrInvalidUpload)
	}
	if r.Filename == "" {
		return fmt.Errorf("%w: missing filename", ErrInvalidUpload)
	}
	return nil
}

// Transcription is the response from POST /transcribe.
type Transcription struct {
	Text    string `json:"transcription"`
	Message string `json:"message"`
}

// ttsRequest is the payload for POST /tts.
type ttsRequest struct {
	Text   string `json:"text"`
	JID    string `json:"whatsapp_jid,omitempty"`
	Format string `json:"format"`
}

// ErrPollTimeout is returned by Await when a job is still running at the end
// of the configured poll window.
var ErrPollTimeout = errors.New("job polling timed out")

// JobError reports a job that finished without a usable response.
type JobError struct {
	JobID   string
	Status  string
	Message string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s %s", e.JobID, e.Status)
	}
	return fmt.Sprintf("job %s %s: %s", e.JobID, e.Status, e.Message)
}

// APIError is a non-2xx response from the AI API, with the detail string the
// API puts in its error bodies.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ai api error (status %d): %s", e.StatusCode, e.Detail)
}
