package telegram

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestParseUpdate(t *testing.T) {
	chat := &tgbotapi.Chat{ID: 42}

	tests := []struct {
		name        string
		update      *tgbotapi.Update
		wantErr     error
		wantFileID  string
		wantMIME    string
		wantSeconds int
		wantText    string
	}{
		{
			name:    "no message",
			update:  &tgbotapi.Update{},
			wantErr: ErrNoMessage,
		},
		{
			name: "message without chat",
			update: &tgbotapi.Update{
				Message: &tgbotapi.Message{MessageID: 1},
			},
			wantErr: ErrNoMessage,
		},
		{
			name: "voice message",
			update: &tgbotapi.Update{
				Message: &tgbotapi.Message{
					MessageID: 7,
					Chat:      chat,
					Voice: &tgbotapi.Voice{
						FileID:   "voice-file",
						MimeType: "audio/ogg",
						Duration: 12,
					},
				},
			},
			wantFileID:  "voice-file",
			wantMIME:    "audio/ogg",
			wantSeconds: 12,
		},
		{
			name: "audio attachment",
			update: &tgbotapi.Update{
				Message: &tgbotapi.Message{
					MessageID: 8,
					Chat:      chat,
					Audio: &tgbotapi.Audio{
						FileID:   "audio-file",
						MimeType: "audio/mpeg",
						Duration: 95,
					},
				},
			},
			wantFileID:  "audio-file",
			wantMIME:    "audio/mpeg",
			wantSeconds: 95,
		},
		{
			name: "plain text",
			update: &tgbotapi.Update{
				Message: &tgbotapi.Message{
					MessageID: 9,
					Chat:      chat,
					Text:      "500 padaria nubank",
				},
			},
			wantText: "500 padaria nubank",
		},
		{
			name: "edited message carries voice",
			update: &tgbotapi.Update{
				EditedMessage: &tgbotapi.Message{
					MessageID: 10,
					Chat:      chat,
					Voice: &tgbotapi.Voice{
						FileID:   "edited-voice",
						MimeType: "audio/ogg",
						Duration: 3,
					},
				},
			},
			wantFileID:  "edited-voice",
			wantMIME:    "audio/ogg",
			wantSeconds: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseUpdate(tt.update)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if in.ChatID != 42 {
				t.Errorf("expected chat ID 42, got %d", in.ChatID)
			}
			if in.FileID != tt.wantFileID {
				t.Errorf("expected file ID %q, got %q", tt.wantFileID, in.FileID)
			}
			if in.MIMEType != tt.wantMIME {
				t.Errorf("expected MIME %q, got %q", tt.wantMIME, in.MIMEType)
			}
			if in.DurationSec != tt.wantSeconds {
				t.Errorf("expected duration %d, got %d", tt.wantSeconds, in.DurationSec)
			}
			if in.Text != tt.wantText {
				t.Errorf("expected text %q, got %q", tt.wantText, in.Text)
			}

			wantAudio := tt.wantFileID != ""
			if in.HasAudio() != wantAudio {
				t.Errorf("expected HasAudio %v, got %v", wantAudio, in.HasAudio())
			}
		})
	}
}
