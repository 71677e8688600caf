package event

import (
	"errors"
	"fmt"
)

// PayloadField is the single field producers write for every submitted event.
const PayloadField = "payload"

var ErrOddFields = errors.New("field sequence has odd length")

// Entry is one record of a stream as the log store returns it.
// Fields keeps the flattened key/value order exactly as it was appended.
type Entry struct {
	ID      string   `json:"id"`
	Fields  []string `json:"fields"`
	Deleted bool     `json:"deleted,omitempty"`
}

// Message is the decoded form of an Entry's fields.
type Message map[string]string

// Decode pairs consecutive elements of fields into a Message.
// When a key repeats, the value of its last occurrence wins.
func Decode(fields []string) (Message, error) {
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("decode %d fields: %w", len(fields), ErrOddFields)
	}

	msg := make(Message, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		msg[fields[i]] = fields[i+1]
	}

	return msg, nil
}

// Payload returns the serialized event carried by the message, if any.
func (m Message) Payload() (string, bool) {
	v, ok := m[PayloadField]
	return v, ok
}
