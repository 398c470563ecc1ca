package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message types the concierge understands.
const (
	TypeText  = "text"
	TypeAudio = "audio"
	TypeVoice = "voice"
)

// Inbound is one user message flattened out of a webhook delivery.
type Inbound struct {
	ID          string    `json:"id"`
	From        string    `json:"from"`
	TenantKey   string    `json:"tenant_key"`
	Type        string    `json:"type"`
	Text        string    `json:"text,omitempty"`
	MediaID     string    `json:"media_id,omitempty"`
	MimeType    string    `json:"mime_type,omitempty"`
	ProfileName string    `json:"profile_name,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// IsAudio reports whether the message needs transcription.
func (m Inbound) IsAudio() bool {
	return (m.Type == TypeAudio || m.Type == TypeVoice) && m.MediaID != ""
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string       `json:"field"`
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []struct {
		From      string `json:"from"`
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Text      *struct {
			Body string `json:"body"`
		} `json:"text,omitempty"`
		Audio *mediaRef `json:"audio,omitempty"`
		Voice *mediaRef `json:"voice,omitempty"`
	} `json:"messages"`
}

type mediaRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}

// ParseWebhook flattens a delivery into inbound messages. Status callbacks
// and unsupported message types are skipped.
func ParseWebhook(body []byte, now time.Time) ([]Inbound, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("messaging: decode webhook: %w", err)
	}
	var out []Inbound
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			names := make(map[string]string, len(value.Contacts))
			for _, c := range value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range value.Messages {
				in := Inbound{
					ID:          msg.ID,
					From:        msg.From,
					TenantKey:   value.Metadata.PhoneNumberID,
					Type:        msg.Type,
					ProfileName: names[msg.From],
					ReceivedAt:  parseTimestamp(msg.Timestamp, now),
				}
				switch {
				case msg.Type == TypeText && msg.Text != nil:
					in.Text = strings.TrimSpace(msg.Text.Body)
				case msg.Type == TypeAudio && msg.Audio != nil:
					in.MediaID, in.MimeType = msg.Audio.ID, msg.Audio.MimeType
				case msg.Type == TypeVoice && msg.Voice != nil:
					in.MediaID, in.MimeType = msg.Voice.ID, msg.Voice.MimeType
				default:
					continue
				}
				if in.From == "" || in.ID == "" {
					continue
				}
				out = append(out, in)
			}
		}
	}
	return out, nil
}

func parseTimestamp(raw string, fallback time.Time) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || sec <= 0 {
		return fallback.UTC()
	}
	return time.Unix(sec, 0).UTC()
}

// SignatureHeader carries the HMAC of the raw webhook body.
const SignatureHeader = "X-Hub-Signature-256"

var ErrInvalidSignature = errors.New("messaging: invalid webhook signature")

// VerifySignature checks header ("sha256=<hex>") against the body signed
// with appSecret. An empty secret skips verification.
func VerifySignature(appSecret, header string, body []byte) error {
	if appSecret == "" {
		return nil
	}
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, computeSignature(appSecret, body)) {
		return ErrInvalidSignature
	}
	return nil
}

func computeSignature(secret string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}

// SignBody returns the header value a provider would send for body.
func SignBody(appSecret string, body []byte) string {
	return "sha256=" + hex.EncodeToString(computeSignature(appSecret, body))
}
