package whatsapp

import (
	"strings"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// MediaKind classifies the attachment of an incoming message.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaSticker  MediaKind = "sticker"
)

// MediaRef describes an attachment without its payload. The bytes stay on
// WhatsApp's servers until Session.Download fetches them.
type MediaRef struct {
	Kind     MediaKind
	Mimetype string
	Caption  string
	Filename string // documents only
	Size     uint64 // declared length, not verified until download
	Seconds  uint32 // audio duration
	Voice    bool   // push-to-talk voice note
}

// Incoming is a normalized inbound message. It carries everything the
// dispatch logic needs without exposing the underlying protobuf.
type Incoming struct {
	MessageID    string
	Chat         types.JID
	Sender       types.JID
	SenderName   string
	Timestamp    time.Time
	IsFromMe     bool
	IsGroup      bool
	IsBroadcast  bool // status updates, broadcast lists, newsletters
	Text         string
	Mentions     []string // JIDs mentioned in the text
	QuotedID     string
	QuotedSender string // author of the quoted message
	Media        *MediaRef

	raw *waE2E.Message // unwrapped payload, used for media download
}

// ParseMessage flattens a whatsmeow message event into an Incoming.
// Protocol chatter (revokes, reactions, poll updates) comes back as nil.
func ParseMessage(evt *events.Message) *Incoming {
	msg := unwrapMessage(evt.Message)
	if msg == nil {
		return nil
	}
	if msg.GetProtocolMessage() != nil || msg.GetReactionMessage() != nil || msg.GetPollUpdateMessage() != nil {
		return nil
	}

	inc := &Incoming{
		MessageID:   evt.Info.ID,
		Chat:        evt.Info.Chat.ToNonAD(),
		Sender:      evt.Info.Sender.ToNonAD(),
		SenderName:  evt.Info.PushName,
		Timestamp:   evt.Info.Timestamp,
		IsFromMe:    evt.Info.IsFromMe,
		IsGroup:     evt.Info.Chat.Server == types.GroupServer,
		IsBroadcast: isBroadcastJID(evt.Info.Chat),
		raw:         msg,
	}

	switch {
	case msg.GetConversation() != "":
		inc.Text = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		inc.Text = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		im := msg.GetImageMessage()
		inc.Media = &MediaRef{
			Kind:     MediaImage,
			Mimetype: im.GetMimetype(),
			Caption:  im.GetCaption(),
			Size:     im.GetFileLength(),
		}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		inc.Media = &MediaRef{
			Kind:     MediaDocument,
			Mimetype: doc.GetMimetype(),
			Caption:  doc.GetCaption(),
			Filename: firstNonEmpty(doc.GetFileName(), doc.GetTitle()),
			Size:     doc.GetFileLength(),
		}
	case msg.GetAudioMessage() != nil:
		au := msg.GetAudioMessage()
		inc.Media = &MediaRef{
			Kind:     MediaAudio,
			Mimetype: au.GetMimetype(),
			Size:     au.GetFileLength(),
			Seconds:  au.GetSeconds(),
			Voice:    au.GetPTT(),
		}
	case msg.GetVideoMessage() != nil:
		v := msg.GetVideoMessage()
		inc.Media = &MediaRef{
			Kind:     MediaVideo,
			Mimetype: v.GetMimetype(),
			Caption:  v.GetCaption(),
			Size:     v.GetFileLength(),
		}
	case msg.GetStickerMessage() != nil:
		st := msg.GetStickerMessage()
		inc.Media = &MediaRef{
			Kind:     MediaSticker,
			Mimetype: st.GetMimetype(),
			Size:     st.GetFileLength(),
		}
	}

	if ci := contextInfo(msg); ci != nil {
		inc.Mentions = ci.GetMentionedJID()
		if stanza := strings.TrimSpace(ci.GetStanzaID()); stanza != "" {
			inc.QuotedID = stanza
			inc.QuotedSender = ci.GetParticipant()
		}
	}
	return inc
}

// unwrapMessage peels view-once and ephemeral wrappers off the payload.
func unwrapMessage(msg *waE2E.Message) *waE2E.Message {
	unwrap := func(m *waE2E.Message) *waE2E.Message {
		if v := m.GetViewOnceMessage(); v != nil {
			return v.GetMessage()
		}
		if v := m.GetViewOnceMessageV2(); v != nil {
			return v.GetMessage()
		}
		if v := m.GetViewOnceMessageV2Extension(); v != nil {
			return v.GetMessage()
		}
		if v := m.GetEphemeralMessage(); v != nil {
			return v.GetMessage()
		}
		return nil
	}
	for i := 0; msg != nil && i < 3; i++ {
		next := unwrap(msg)
		if next == nil {
			break
		}
		msg = next
	}
	return msg
}

func contextInfo(msg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetContextInfo()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetContextInfo()
	}
	return nil
}

func isBroadcastJID(jid types.JID) bool {
	return jid.Server == types.BroadcastServer || jid.Server == types.NewsletterServer
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
