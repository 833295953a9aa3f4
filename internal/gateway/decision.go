// Package gateway decides what happens to each inbound WhatsApp message and
// drives it through the AI API: ignore it, record it as conversation history,
// answer it, or push back with a short notice.
package gateway

import (
	"strings"

	"go.mau.fi/whatsmeow/types"

	"wabridge/internal/whatsapp"
)

// User-visible fixed strings.
const (
	// FailureReaction marks the triggering message when processing fails.
	FailureReaction = "⚠️"
	// FailureText is the apology sent after the failure reaction.
	FailureText = "Sorry, something went wrong while processing your message. Please try again."
	// NoticeUnsupportedDocument is sent for document types outside the allowlist.
	NoticeUnsupportedDocument = "Only PDF documents are supported."

	// DefaultImagePrompt stands in for a missing caption on images.
	DefaultImagePrompt = "What's in this image?"
	// DefaultDocumentPrompt stands in for a missing caption on documents.
	DefaultDocumentPrompt = "Summarize this document."
)

// DecisionKind is the terminal routing choice for a message.
type DecisionKind int

const (
	// Ignore drops the message without side effects.
	Ignore DecisionKind = iota
	// Save records the message as conversation history without a reply.
	Save
	// Forward sends the message through the AI API and delivers the answer.
	Forward
	// Notice answers with a fixed informational text and never reaches the
	// AI API. Notices are not failures: no failure reaction is sent.
	Notice
)

func (k DecisionKind) String() string {
	switch k {
	case Ignore:
		return "ignore"
	case Save:
		return "save"
	case Forward:
		return "forward"
	case Notice:
		return "notice"
	}
	return "unknown"
}

// IgnoreReason explains an Ignore decision for logs and metrics.
type IgnoreReason string

const (
	ReasonSelf             IgnoreReason = "self"
	ReasonBroadcast        IgnoreReason = "broadcast"
	ReasonUnaddressed      IgnoreReason = "unaddressed"
	ReasonEmpty            IgnoreReason = "empty"
	ReasonUnsupportedMedia IgnoreReason = "unsupported-media"
)

// Decision is the outcome of Decide.
type Decision struct {
	Kind   DecisionKind
	Reason IgnoreReason // set when Kind is Ignore
	Notice string       // set when Kind is Notice

	// Forward decorations.
	Mentioned       bool
	RepliedTo       bool
	Automated       bool
	AutomatedSource string
}

// Identity is the bot's own addressing in both namespaces: the primary
// phone-number JID and the hidden-user (LID) alias groups may use instead.
type Identity struct {
	JID types.JID
	LID types.JID
}

// Matches reports whether a raw JID string refers to this identity in either
// namespace.
func (id Identity) Matches(raw string) bool {
	jid, err := types.ParseJID(strings.TrimSpace(raw))
	if err != nil || jid.User == "" {
		return false
	}
	jid = jid.ToNonAD()
	if !id.JID.IsEmpty() && jid.User == id.JID.User && jid.Server == id.JID.Server {
		return true
	}
	if !id.LID.IsEmpty() && jid.User == id.LID.User && jid.Server == id.LID.Server {
		return true
	}
	return false
}

// Rules carries the configurable parts of the dispatch policy.
type Rules struct {
	// AutomatedSenders lists numbers or JIDs treated as automation
	// sources. Their messages skip the group mention gate.
	AutomatedSenders []string
	// ProactiveReplies lets automated messages trigger a response. When
	// false they are saved as conversation context without replying, and
	// the account's own messages stay ignored.
	ProactiveReplies bool
}

func (r Rules) automatedSource(sender types.JID) (string, bool) {
	for _, entry := range r.AutomatedSenders {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.ContainsRune(entry, '@') {
			if jid, err := types.ParseJID(entry); err == nil && jid.ToNonAD().User == sender.User {
				return sender.User, true
			}
			continue
		}
		if normalizeDigits(entry) == sender.User {
			return sender.User, true
		}
	}
	return "", false
}

func normalizeDigits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Decide routes one inbound message. It is a pure function of the message,
// the bot's identity, and the dispatch rules: no network, no side effects.
//
// Ordering is load-bearing: the self and broadcast checks come first, then
// automated senders, then the group gate, then content checks. Command
// detection is not done here at all; the AI API recognizes commands
// server-side when the message is submitted.
func Decide(msg *whatsapp.Incoming, self Identity, rules Rules) Decision {
	if msg.IsFromMe {
		if rules.ProactiveReplies && !msg.IsGroup && !msg.IsBroadcast && TextContent(msg) != "" {
			return Decision{Kind: Forward, Automated: true, AutomatedSource: "self"}
		}
		return Decision{Kind: Ignore, Reason: ReasonSelf}
	}
	if msg.IsBroadcast {
		return Decision{Kind: Ignore, Reason: ReasonBroadcast}
	}

	// Automated senders never mention the bot, so they are checked before
	// the group gate. Without proactive replies their messages become
	// conversation context only.
	if source, automated := rules.automatedSource(msg.Sender); automated {
		if !rules.ProactiveReplies {
			if TextContent(msg) != "" {
				return Decision{Kind: Save}
			}
			return Decision{Kind: Ignore, Reason: ReasonEmpty}
		}
		return contentDecision(msg, Decision{
			Kind:            Forward,
			Automated:       true,
			AutomatedSource: source,
		})
	}

	if msg.IsGroup {
		mentioned := mentionsIdentity(msg.Mentions, self)
		replied := msg.QuotedID != "" && self.Matches(msg.QuotedSender)
		if !mentioned && !replied {
			return Decision{Kind: Ignore, Reason: ReasonUnaddressed}
		}
		return contentDecision(msg, Decision{
			Kind:      Forward,
			Mentioned: mentioned,
			RepliedTo: replied,
		})
	}

	return contentDecision(msg, Decision{Kind: Forward})
}

// contentDecision finishes a Forward decision once the message is known to be
// addressed to the bot: it rejects non-PDF documents with a notice and drops
// payloads the gateway cannot represent.
func contentDecision(msg *whatsapp.Incoming, d Decision) Decision {
	if msg.Media == nil {
		if msg.Text == "" {
			return Decision{Kind: Ignore, Reason: ReasonEmpty}
		}
		return d
	}

	switch msg.Media.Kind {
	case whatsapp.MediaImage, whatsapp.MediaAudio:
		return d
	case whatsapp.MediaDocument:
		if !isPDF(msg.Media.Mimetype) {
			return Decision{Kind: Notice, Notice: NoticeUnsupportedDocument}
		}
		return d
	default:
		// Video and sticker payloads are not forwarded; a caption still
		// counts as text.
		if TextContent(msg) == "" {
			return Decision{Kind: Ignore, Reason: ReasonUnsupportedMedia}
		}
		return d
	}
}

func mentionsIdentity(mentions []string, self Identity) bool {
	for _, m := range mentions {
		if self.Matches(m) {
			return true
		}
	}
	return false
}

// TextContent returns the message text, falling back to the media caption.
func TextContent(msg *whatsapp.Incoming) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Media != nil {
		return msg.Media.Caption
	}
	return ""
}

// isPDF checks the declared document mimetype against the allowlist. The
// mimetype may carry parameters after a semicolon.
func isPDF(mimetype string) bool {
	base := strings.TrimSpace(strings.SplitN(mimetype, ";", 2)[0])
	return strings.EqualFold(base, "application/pdf")
}
