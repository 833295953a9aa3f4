package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// Quote identifies the message a reply should be anchored to.
type Quote struct {
	MessageID string
	Sender    types.JID      // author of the quoted message, chat JID when unknown
	Message   *waE2E.Message // original content, stubbed when unavailable
}

// guard rejects sends while the connection is down so callers get a typed
// error instead of a whatsmeow timeout.
func (s *Session) guard() error {
	if !s.Connected() {
		return ErrNotConnected
	}
	return nil
}

// SendText delivers a text message, optionally as a reply.
func (s *Session) SendText(ctx context.Context, to types.JID, text string, quote *Quote) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}

	msg := &waE2E.Message{Conversation: proto.String(text)}
	if quote != nil && quote.MessageID != "" {
		quoted := quote.Message
		if quoted == nil {
			quoted = &waE2E.Message{Conversation: proto.String("")}
		}
		sender := quote.Sender
		if sender.IsEmpty() {
			sender = to
		}
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(text),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:      proto.String(quote.MessageID),
					Participant:   proto.String(sender.ToNonAD().String()),
					QuotedMessage: quoted,
				},
			},
		}
	}

	resp, err := s.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	return resp.ID, nil
}

// SendReaction attaches an emoji reaction to a message. sender is the author
// of the target message; an empty emoji removes the reaction.
func (s *Session) SendReaction(ctx context.Context, chat, sender types.JID, messageID, emoji string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if sender.IsEmpty() {
		sender = chat
	}
	msg := s.client.BuildReaction(chat, sender, types.MessageID(messageID), emoji)
	if _, err := s.client.SendMessage(ctx, chat, msg); err != nil {
		return fmt.Errorf("send reaction: %w", err)
	}
	return nil
}

// Composing shows the "typing..." indicator in a chat.
func (s *Session) Composing(ctx context.Context, chat types.JID) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.client.SendChatPresence(ctx, chat, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

// Recording shows the "recording audio..." indicator in a chat.
func (s *Session) Recording(ctx context.Context, chat types.JID) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.client.SendChatPresence(ctx, chat, types.ChatPresenceComposing, types.ChatPresenceMediaAudio)
}

// Paused clears the typing or recording indicator.
func (s *Session) Paused(ctx context.Context, chat types.JID) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.client.SendChatPresence(ctx, chat, types.ChatPresencePaused, types.ChatPresenceMediaText)
}

// SendVoice uploads audio and delivers it as a push-to-talk voice note.
func (s *Session) SendVoice(ctx context.Context, to types.JID, audio []byte, mimetype string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	if mimetype == "" {
		mimetype = "audio/ogg; codecs=opus"
	}

	up, err := s.client.Upload(ctx, audio, whatsmeow.MediaAudio)
	if err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	msg := &waE2E.Message{
		AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimetype),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
			PTT:           proto.Bool(true),
		},
	}
	resp, err := s.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send voice: %w", err)
	}
	return resp.ID, nil
}

// SendImage uploads and delivers an image with an optional caption.
func (s *Session) SendImage(ctx context.Context, to types.JID, data []byte, mimetype, caption string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	if mimetype == "" {
		mimetype = http.DetectContentType(data)
	}

	up, err := s.client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	im := &waE2E.ImageMessage{
		Mimetype:      proto.String(mimetype),
		URL:           &up.URL,
		DirectPath:    &up.DirectPath,
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    &up.FileLength,
	}
	if caption != "" {
		im.Caption = proto.String(caption)
	}
	resp, err := s.client.SendMessage(ctx, to, &waE2E.Message{ImageMessage: im})
	if err != nil {
		return "", fmt.Errorf("send image: %w", err)
	}
	return resp.ID, nil
}

// SendDocument uploads and delivers a document.
func (s *Session) SendDocument(ctx context.Context, to types.JID, data []byte, mimetype, filename, caption string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	if mimetype == "" {
		mimetype = http.DetectContentType(data)
	}

	up, err := s.client.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		return "", fmt.Errorf("upload document: %w", err)
	}
	doc := &waE2E.DocumentMessage{
		Title:         proto.String(filename),
		FileName:      proto.String(filename),
		Mimetype:      proto.String(mimetype),
		URL:           &up.URL,
		DirectPath:    &up.DirectPath,
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    &up.FileLength,
	}
	if caption != "" {
		doc.Caption = proto.String(caption)
	}
	resp, err := s.client.SendMessage(ctx, to, &waE2E.Message{DocumentMessage: doc})
	if err != nil {
		return "", fmt.Errorf("send document: %w", err)
	}
	return resp.ID, nil
}

// SendLocation delivers a pin with optional place name and address.
func (s *Session) SendLocation(ctx context.Context, to types.JID, lat, lng float64, name, address string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	loc := &waE2E.LocationMessage{
		DegreesLatitude:  proto.Float64(lat),
		DegreesLongitude: proto.Float64(lng),
	}
	if name != "" {
		loc.Name = proto.String(name)
	}
	if address != "" {
		loc.Address = proto.String(address)
	}
	resp, err := s.client.SendMessage(ctx, to, &waE2E.Message{LocationMessage: loc})
	if err != nil {
		return "", fmt.Errorf("send location: %w", err)
	}
	return resp.ID, nil
}

// SendContact delivers a contact card.
func (s *Session) SendContact(ctx context.Context, to types.JID, name, phone, email, org string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	msg := &waE2E.Message{
		ContactMessage: &waE2E.ContactMessage{
			DisplayName: proto.String(name),
			Vcard:       proto.String(buildVCard(name, phone, email, org)),
		},
	}
	resp, err := s.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send contact: %w", err)
	}
	return resp.ID, nil
}

// EditMessage replaces the text of a previously sent message.
func (s *Session) EditMessage(ctx context.Context, chat types.JID, messageID, newText string) error {
	if err := s.guard(); err != nil {
		return err
	}
	edit := s.client.BuildEdit(chat, types.MessageID(messageID), &waE2E.Message{
		Conversation: proto.String(newText),
	})
	if _, err := s.client.SendMessage(ctx, chat, edit); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// DeleteMessage revokes a previously sent message for everyone.
func (s *Session) DeleteMessage(ctx context.Context, chat types.JID, messageID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	revoke := s.client.BuildRevoke(chat, types.EmptyJID, types.MessageID(messageID))
	if _, err := s.client.SendMessage(ctx, chat, revoke); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// MarkRead sends read receipts for the given message IDs. sender is required
// for group chats.
func (s *Session) MarkRead(ctx context.Context, chat, sender types.JID, messageIDs ...string) error {
	if err := s.guard(); err != nil {
		return err
	}
	ids := make([]types.MessageID, 0, len(messageIDs))
	for _, id := range messageIDs {
		if id != "" {
			ids = append(ids, types.MessageID(id))
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if chat.Server != types.GroupServer {
		sender = types.EmptyJID
	}
	return s.client.MarkRead(ctx, ids, time.Now(), chat, sender)
}

func buildVCard(name, phone, email, org string) string {
	digits := normalizeNumber(phone)
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\n")
	b.WriteString("VERSION:3.0\n")
	b.WriteString("FN:" + name + "\n")
	if org != "" {
		b.WriteString("ORG:" + org + ";\n")
	}
	fmt.Fprintf(&b, "TEL;type=CELL;type=VOICE;waid=%s:+%s\n", digits, digits)
	if email != "" {
		b.WriteString("EMAIL:" + email + "\n")
	}
	b.WriteString("END:VCARD")
	return b.String()
}
