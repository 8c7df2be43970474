package marshal

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectMIME returns the media type for a file, preferring the extension
// and falling back to content sniffing.
func DetectMIME(data []byte, name string) string {
	if ext := filepath.Ext(name); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			t, _, _ = strings.Cut(t, ";")
			return t
		}
	}
	if len(data) == 0 {
		return ""
	}
	t, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	if t == "application/octet-stream" {
		return ""
	}
	return t
}
