package domain

import (
	"time"
)

// MediaKind is the coarse class of a media asset.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// MediaAsset is a file to send, built and consumed within one dispatch.
type MediaAsset struct {
	Path     string
	Name     string
	Caption  string
	MimeType string
	Kind     MediaKind
	// Voice is the caller's explicit voice-note flag.
	Voice bool
}

// TranscodeProfile selects how audio is normalized before delivery.
type TranscodeProfile string

const (
	// ProfileVoiceNote is a recorded voice message (PTT): mono, 128 kbps, 44.1 kHz, mp4 voice container.
	ProfileVoiceNote TranscodeProfile = "voice_note"
	// ProfileFileAudio is a generic playable audio file: stereo, 192 kbps, 44.1 kHz.
	ProfileFileAudio TranscodeProfile = "file_audio"
)

// VoiceNoteMimeType is the payload type of every voice note.
const VoiceNoteMimeType = "audio/mp4"

// ProfileParams are the codec settings of a profile.
type ProfileParams struct {
	Channels    int
	BitrateKbps int
	SampleRate  int
	// Format is the forced container, empty to infer it from Extension.
	Format    string
	Extension string
}

// Params returns the codec settings for p.
func (p TranscodeProfile) Params() ProfileParams {
	if p == ProfileVoiceNote {
		return ProfileParams{Channels: 1, BitrateKbps: 128, SampleRate: 44100, Format: "ipod", Extension: ".m4a"}
	}
	return ProfileParams{Channels: 2, BitrateKbps: 192, SampleRate: 44100, Extension: ".mp3"}
}

// PayloadKind is the shape of an outbound message.
type PayloadKind string

const (
	PayloadText     PayloadKind = "text"
	PayloadImage    PayloadKind = "image"
	PayloadVideo    PayloadKind = "video"
	PayloadAudio    PayloadKind = "audio"
	PayloadDocument PayloadKind = "document"
)

// MessagePayload is a send-ready message.
type MessagePayload struct {
	Kind     PayloadKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Data     []byte      `json:"data,omitempty"`
	Caption  string      `json:"caption,omitempty"`
	FileName string      `json:"fileName,omitempty"`
	MimeType string      `json:"mimetype,omitempty"`
	PTT      bool        `json:"ptt,omitempty"`
	// Profile is set on audio payloads.
	Profile TranscodeProfile `json:"profile,omitempty"`
}

// TextPayload builds a plain text message.
func TextPayload(text string) MessagePayload {
	return MessagePayload{Kind: PayloadText, Text: text}
}

// Summary is the text cached as the ticket's last message.
func (p MessagePayload) Summary() string {
	switch {
	case p.Kind == PayloadText:
		return p.Text
	case p.Caption != "":
		return p.Caption
	case p.FileName != "":
		return p.FileName
	}
	return string(p.Kind)
}

// Recipient identifies the conversation peer.
type Recipient struct {
	Number  string `json:"number"`
	IsGroup bool   `json:"isGroup,omitempty"`
}

// JID returns the transport address of the recipient.
func (r Recipient) JID() string {
	if r.IsGroup {
		return r.Number + "@g.us"
	}
	return r.Number + "@s.whatsapp.net"
}

// MessageHandle identifies a delivered message.
type MessageHandle struct {
	ID        string    `json:"id"`
	RemoteJID string    `json:"remoteJid"`
	Timestamp time.Time `json:"timestamp"`
}

// Presence is a chat state signal.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)
