package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wabridge/internal/whatsapp"
)

// maxMediaBytes caps attachments by their declared length before any bytes
// are fetched. Larger files fail fast instead of filling memory.
const maxMediaBytes = 64 << 20

// Media download errors surface to the user as the generic failure signal.
var (
	ErrMediaTooLarge = errors.New("attachment exceeds size limit")
	ErrMediaEmpty    = errors.New("attachment decoded to zero bytes")
)

// MediaPayload is a downloaded attachment ready for the AI API.
type MediaPayload struct {
	Kind     whatsapp.MediaKind
	Data     []byte
	Mimetype string
	Filename string
}

// fetchMedia downloads and validates the attachment of a message. A download
// that succeeds but produces no bytes is an error; silently forwarding an
// empty attachment would make the AI answer about nothing.
func fetchMedia(ctx context.Context, tr Transport, msg *whatsapp.Incoming) (*MediaPayload, error) {
	ref := msg.Media
	if ref == nil {
		return nil, errors.New("message has no attachment")
	}
	if ref.Size > maxMediaBytes {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrMediaTooLarge, ref.Size)
	}

	data, err := tr.Download(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ref.Kind, err)
	}
	if len(data) == 0 {
		return nil, ErrMediaEmpty
	}

	return &MediaPayload{
		Kind:     ref.Kind,
		Data:     data,
		Mimetype: ref.Mimetype,
		Filename: ref.Filename,
	}, nil
}

// audioFilename picks a transcription upload name whose extension matches
// the declared mimetype, since the AI API sniffs the format from the name.
func audioFilename(mimetype string) string {
	base := strings.TrimSpace(strings.SplitN(mimetype, ";", 2)[0])
	switch strings.ToLower(base) {
	case "audio/mpeg", "audio/mp3":
		return "voice.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "voice.m4a"
	case "audio/wav", "audio/x-wav":
		return "voice.wav"
	case "audio/amr":
		return "voice.amr"
	case "audio/aac":
		return "voice.aac"
	default:
		return "voice.ogg"
	}
}
