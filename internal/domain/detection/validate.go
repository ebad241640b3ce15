package detection

import (
	"mime"
	"strings"
)

// Validate classifies f by its declared content type. No size limit is enforced.
func Validate(f File) (MediaKind, error) {
	ct := strings.ToLower(strings.TrimSpace(f.ContentType))
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}

	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindImage, nil
	case strings.HasPrefix(ct, "video/"):
		return KindVideo, nil
	default:
		return "", ErrInvalidFileType
	}
}
