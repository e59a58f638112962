package twilio

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/pokulabs/poku/internal/stream"
	twclient "github.com/twilio/twilio-go/client"
)

// SignatureHeader carries the request signature on webhook calls.
const SignatureHeader = "X-Twilio-Signature"

var ErrMissingSID = errors.New("twilio: webhook without MessageSid")

// StatusUpdate is a delivery status callback.
type StatusUpdate struct {
	SID       string
	Status    string
	ErrorCode int
}

// ParseIncoming reads an inbound message webhook. Twilio does not send a
// timestamp, so now is used.
func ParseIncoming(form url.Values, now time.Time) (stream.Message, error) {
	sid := sidOf(form)
	if sid == "" {
		return stream.Message{}, ErrMissingSID
	}
	status := form.Get("SmsStatus")
	if status == "" {
		status = "received"
	}
	return stream.Message{
		SID:      sid,
		From:     form.Get("From"),
		To:       form.Get("To"),
		Body:     form.Get("Body"),
		DateSent: now.UTC(),
		Status:   status,
	}, nil
}

// ParseStatus reads a status callback.
func ParseStatus(form url.Values) (StatusUpdate, error) {
	sid := sidOf(form)
	if sid == "" {
		return StatusUpdate{}, ErrMissingSID
	}
	u := StatusUpdate{SID: sid, Status: form.Get("MessageStatus")}
	if u.Status == "" {
		u.Status = form.Get("SmsStatus")
	}
	if code := form.Get("ErrorCode"); code != "" {
		n, err := strconv.Atoi(code)
		if err != nil {
			return StatusUpdate{}, fmt.Errorf("twilio: status callback for %s has ErrorCode %q: %w", sid, code, err)
		}
		u.ErrorCode = n
	}
	return u, nil
}

func sidOf(form url.Values) string {
	if sid := form.Get("MessageSid"); sid != "" {
		return sid
	}
	return form.Get("SmsSid")
}

// ValidSignature reports whether sig matches a POST of form to fullURL.
// Twilio signs each parameter once, so only the first value of a key is used.
func ValidSignature(authToken, fullURL string, form url.Values, sig string) bool {
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	v := twclient.NewRequestValidator(authToken)
	return v.Validate(fullURL, params, sig)
}
