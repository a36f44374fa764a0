package wire

import (
	"fmt"
	"unicode/utf8"
)

// TextMessage is a decoded plain-text broadcast. The payload is the raw
// message bytes, no framing.
type TextMessage struct {
	Text string `json:"text"`
}

func DecodeText(b []byte) (*TextMessage, error) {
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("%w: text payload is not valid UTF-8", ErrDecode)
	}

	return &TextMessage{Text: string(b)}, nil
}
