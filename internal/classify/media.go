package classify

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/matheus3301/inbox/internal/model"
)

var typeAliases = map[string]model.MediaKind{
	"image":    model.MediaImage,
	"photo":    model.MediaImage,
	"picture":  model.MediaImage,
	"gif":      model.MediaImage,
	"video":    model.MediaVideo,
	"audio":    model.MediaAudio,
	"voice":    model.MediaAudio,
	"ptt":      model.MediaAudio,
	"document": model.MediaDocument,
	"file":     model.MediaDocument,
	"pdf":      model.MediaDocument,
}

var extensions = map[string]model.MediaKind{
	".jpg": model.MediaImage, ".jpeg": model.MediaImage, ".png": model.MediaImage,
	".gif": model.MediaImage, ".webp": model.MediaImage, ".bmp": model.MediaImage,
	".heic": model.MediaImage, ".heif": model.MediaImage, ".svg": model.MediaImage,
	".tif": model.MediaImage, ".tiff": model.MediaImage, ".avif": model.MediaImage,

	".mp4": model.MediaVideo, ".mov": model.MediaVideo, ".webm": model.MediaVideo,
	".mkv": model.MediaVideo, ".avi": model.MediaVideo, ".m4v": model.MediaVideo,
	".3gp": model.MediaVideo,

	".mp3": model.MediaAudio, ".wav": model.MediaAudio, ".ogg": model.MediaAudio,
	".oga": model.MediaAudio, ".opus": model.MediaAudio, ".m4a": model.MediaAudio,
	".aac": model.MediaAudio, ".amr": model.MediaAudio, ".flac": model.MediaAudio,
	".weba": model.MediaAudio,
}

// KindOf detects the rendering class of an attachment. The explicit type
// field wins, then the declared MIME type, then the file extension of the
// filename or URL path. Anything undetermined is a document.
func KindOf(m *model.Media) model.MediaKind {
	if m == nil {
		return ""
	}
	if k, ok := kindFromType(m.Type); ok {
		return k
	}
	if k, ok := kindFromMIME(m.MIME); ok {
		return k
	}
	if k, ok := kindFromExt(m.Filename); ok {
		return k
	}
	if u, err := url.Parse(m.URL); err == nil {
		if k, ok := kindFromExt(u.Path); ok {
			return k
		}
	}
	return model.MediaDocument
}

func kindFromType(t string) (model.MediaKind, bool) {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "", false
	}
	if k, ok := typeAliases[t]; ok {
		return k, true
	}
	// Some providers put a MIME type in the type field.
	if strings.Contains(t, "/") {
		return kindFromMIME(t)
	}
	return "", false
}

func kindFromMIME(s string) (model.MediaKind, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		mt = strings.ToLower(s)
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return model.MediaImage, true
	case strings.HasPrefix(mt, "video/"):
		return model.MediaVideo, true
	case strings.HasPrefix(mt, "audio/"):
		return model.MediaAudio, true
	case mt == "application/octet-stream", mt == "binary/octet-stream":
		// Says nothing; let the extension decide.
		return "", false
	}
	return model.MediaDocument, true
}

func kindFromExt(name string) (model.MediaKind, bool) {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(name)))
	if ext == "" {
		return "", false
	}
	k, ok := extensions[ext]
	return k, ok
}

// IsImage reports whether m carries an image attachment.
func IsImage(m *model.Message) bool {
	return m.Media != nil && KindOf(m.Media) == model.MediaImage
}
