package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// parseRecipient turns an already-qualified recipient into a JID without
// touching the network. ok is false for bare phone numbers, which need
// directory resolution.
func parseRecipient(raw string) (jid types.JID, ok bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.JID{}, false, errors.New("whatsapp: empty recipient")
	}
	if !strings.ContainsRune(raw, '@') {
		return types.JID{}, false, nil
	}
	jid, err = types.ParseJID(raw)
	if err != nil {
		return types.JID{}, false, fmt.Errorf("whatsapp: parse jid %q: %w", raw, err)
	}
	return jid, true, nil
}

// normalizeNumber strips formatting characters from a phone number so that
// "+49 171 1234567" and "491711234567" resolve identically.
func normalizeNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveJID maps a recipient string to a canonical JID. Full JIDs pass
// through unchanged, so resolving an already-resolved value is a no-op. Bare
// numbers are checked against the WhatsApp directory; numbers without an
// account come back as *NotRegisteredError.
func (s *Session) ResolveJID(ctx context.Context, recipient string) (types.JID, error) {
	jid, ok, err := parseRecipient(recipient)
	if err != nil {
		return types.JID{}, err
	}
	if ok {
		return jid, nil
	}

	number := normalizeNumber(recipient)
	if number == "" {
		return types.JID{}, fmt.Errorf("whatsapp: recipient %q has no digits", recipient)
	}
	if !s.Connected() {
		return types.JID{}, ErrNotConnected
	}

	resp, err := s.client.IsOnWhatsApp(ctx, []string{"+" + number})
	if err != nil {
		return types.JID{}, fmt.Errorf("whatsapp: directory lookup for %s: %w", number, err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return types.JID{}, &NotRegisteredError{Number: number}
	}
	return resp[0].JID.ToNonAD(), nil
}
