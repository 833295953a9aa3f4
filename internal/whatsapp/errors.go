package whatsapp

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by send operations while the client has no
// usable connection to WhatsApp.
var ErrNotConnected = errors.New("whatsapp: not connected")

// ErrNotPaired is returned by Connect when the session store has no device.
// The pair command must run first.
var ErrNotPaired = errors.New("whatsapp: no stored session, run pair first")

// NotRegisteredError reports a phone number with no WhatsApp account.
type NotRegisteredError struct {
	Number string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("whatsapp: %s is not registered", e.Number)
}
