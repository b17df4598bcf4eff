package media

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/listiago/atendechat/pkg/domain"
)

// extensionTypes pins the types the messaging channel cares about.
// System mime tables differ between hosts and often lack audio containers.
var extensionTypes = map[string]string{
	// audio
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".webm": "audio/webm",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".amr":  "audio/amr",
	// video
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".avi": "video/x-msvideo",
	".mkv": "video/x-matroska",
	".3gp": "video/3gpp",
	// image
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	// document
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".zip":  "application/zip",
	".json": "application/json",
}

// DetectMIME determines the content type of an asset.
// It tries the declared type, the file extension, then the file content.
func DetectMIME(asset domain.MediaAsset) (string, error) {
	if asset.MimeType != "" {
		return normalize(asset.MimeType), nil
	}

	ext := strings.ToLower(filepath.Ext(asset.Path))
	if ext != "" {
		if t, ok := extensionTypes[ext]; ok {
			return t, nil
		}
		if t := mime.TypeByExtension(ext); t != "" {
			return normalize(t), nil
		}
	}

	detected, err := mimetype.DetectFile(asset.Path)
	if err != nil || detected.Is("application/octet-stream") {
		return "", &domain.MimeUnresolvedError{Path: asset.Path}
	}
	return normalize(detected.String()), nil
}

// normalize drops parameters such as "; charset=utf-8".
func normalize(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(t))
}

// Classify maps a MIME type to the payload shape it is sent as.
// Unknown major types fall back to image.
func Classify(mimeType string) domain.MediaKind {
	major, _, _ := strings.Cut(mimeType, "/")
	switch major {
	case "video":
		return domain.MediaVideo
	case "audio":
		return domain.MediaAudio
	case "document", "application", "text":
		return domain.MediaDocument
	default:
		return domain.MediaImage
	}
}

// VoiceMarker in a declared filename marks a voice recording made in the web client.
const VoiceMarker = "audio-record-site"

var voiceContainers = []string{"ogg", "webm", "mp4"}

// SelectProfile picks the transcode profile of an audio asset.
// A voice flag, the voice marker or a voice container select VoiceNote.
func SelectProfile(asset domain.MediaAsset, mimeType string) domain.TranscodeProfile {
	if asset.Voice || strings.Contains(asset.Name, VoiceMarker) {
		return domain.ProfileVoiceNote
	}
	for _, c := range voiceContainers {
		if strings.Contains(mimeType, c) {
			return domain.ProfileVoiceNote
		}
	}
	return domain.ProfileFileAudio
}
