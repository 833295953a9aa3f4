package gateway

import (
	"context"
	"errors"
	"testing"

	"wabridge/internal/whatsapp"
)

func TestFetchMedia_RejectsOversizedDeclaration(t *testing.T) {
	tr, _ := newFakes()

	msg := directMsg("")
	msg.Media = &whatsapp.MediaRef{
		Kind:     whatsapp.MediaDocument,
		Mimetype: "application/pdf",
		Size:     maxMediaBytes + 1,
	}

	_, err := fetchMedia(context.Background(), tr, msg)
	if !errors.Is(err, ErrMediaTooLarge) {
		t.Fatalf("expected ErrMediaTooLarge, got %v", err)
	}
	if opIndex(tr.ops, "download") != -1 {
		t.Error("expected oversized attachment to be rejected before download")
	}
}

func TestFetchMedia_RejectsEmptyDownload(t *testing.T) {
	tr, _ := newFakes()
	tr.downloadData = nil

	msg := directMsg("")
	msg.Media = &whatsapp.MediaRef{Kind: whatsapp.MediaImage, Mimetype: "image/jpeg"}

	_, err := fetchMedia(context.Background(), tr, msg)
	if !errors.Is(err, ErrMediaEmpty) {
		t.Fatalf("expected ErrMediaEmpty, got %v", err)
	}
}

func TestFetchMedia_WrapsDownloadError(t *testing.T) {
	tr, _ := newFakes()
	tr.downloadErr = errors.New("mediaconn expired")

	msg := directMsg("")
	msg.Media = &whatsapp.MediaRef{Kind: whatsapp.MediaAudio, Mimetype: "audio/ogg"}

	_, err := fetchMedia(context.Background(), tr, msg)
	if err == nil || !errors.Is(err, tr.downloadErr) {
		t.Fatalf("expected wrapped download error, got %v", err)
	}
}

func TestFetchMedia_ReturnsPayload(t *testing.T) {
	tr, _ := newFakes()
	tr.downloadData = []byte{0x25, 0x50, 0x44, 0x46}

	msg := directMsg("")
	msg.Media = &whatsapp.MediaRef{
		Kind:     whatsapp.MediaDocument,
		Mimetype: "application/pdf",
		Filename: "report.pdf",
		Size:     4,
	}

	payload, err := fetchMedia(context.Background(), tr, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Kind != whatsapp.MediaDocument || payload.Filename != "report.pdf" {
		t.Errorf("unexpected payload metadata %+v", payload)
	}
	if len(payload.Data) != 4 {
		t.Errorf("expected 4 payload bytes, got %d", len(payload.Data))
	}
}

func TestAudioFilename_MatchesMimetype(t *testing.T) {
	cases := []struct {
		mimetype string
		want     string
	}{
		{"audio/ogg; codecs=opus", "voice.ogg"},
		{"audio/mpeg", "voice.mp3"},
		{"audio/mp4", "voice.m4a"},
		{"audio/x-m4a", "voice.m4a"},
		{"audio/wav", "voice.wav"},
		{"audio/amr", "voice.amr"},
		{"AUDIO/AAC", "voice.aac"},
		{"", "voice.ogg"},
		{"application/octet-stream", "voice.ogg"},
	}
	for _, tc := range cases {
		if got := audioFilename(tc.mimetype); got != tc.want {
			t.Errorf("audioFilename(%q): expected %q, got %q", tc.mimetype, tc.want, got)
		}
	}
}
