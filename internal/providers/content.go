package providers

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/claudeswitch/claudeswitch/internal/canonical"
)

// allowedImageMimeTypes is the set of image types the chat protocols accept.
// Anything else on a user turn is rejected explicitly, never downgraded.
var allowedImageMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
}

func validateAttachment(att canonical.Attachment) error {
	for _, allowed := range allowedImageMimeTypes {
		if att.MimeType == allowed {
			return nil
		}
	}
	return &canonical.UnsupportedAttachmentError{
		MimeType: att.MimeType,
		Allowed:  allowedImageMimeTypes,
	}
}

// inferMimeType guesses an image mime type from a URL's extension. Bare URLs
// with no recognizable extension default to image/jpeg.
func inferMimeType(url string) string {
	lower := strings.ToLower(url)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// parseDataURL splits a data: URL into mime type and decoded bytes.
func parseDataURL(url string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	mime := strings.TrimSuffix(meta, ";base64")
	if mime == "" {
		mime = "image/jpeg"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL payload: %w", err)
	}
	return mime, data, nil
}

func buildDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
