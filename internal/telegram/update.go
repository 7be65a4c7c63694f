package telegram

import (
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrNoMessage is returned for structurally valid updates that carry
// nothing to process (channel posts, callback queries, and so on).
var ErrNoMessage = errors.New("update contains no message")

// Inbound is the distilled content of one webhook update.
type Inbound struct {
	ChatID      int64
	MessageID   int
	FileID      string
	MIMEType    string
	DurationSec int
	Text        string
}

// HasAudio reports whether the update references a voice or audio file.
func (in *Inbound) HasAudio() bool {
	return in.FileID != ""
}

// ParseUpdate extracts the message reference from a webhook update.
// Both voice notes and audio file attachments are accepted, matching
// what users actually send.
func ParseUpdate(update *tgbotapi.Update) (*Inbound, error) {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.Chat == nil {
		return nil, ErrNoMessage
	}

	in := &Inbound{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      strings.TrimSpace(msg.Text),
	}

	switch {
	case msg.Voice != nil:
		in.FileID = msg.Voice.FileID
		in.MIMEType = msg.Voice.MimeType
		in.DurationSec = msg.Voice.Duration
	case msg.Audio != nil:
		in.FileID = msg.Audio.FileID
		in.MIMEType = msg.Audio.MimeType
		in.DurationSec = msg.Audio.Duration
	}

	return in, nil
}
