package headers

import "net/http"

// MirrorContentType sets the response Content-Type in dst to the value the
// caller sent in src. When the caller sent none, the header is set to nil so
// that net/http neither sniffs nor writes a content type.
func MirrorContentType(dst http.Header, src Map) {
	if ct := src.ContentType(); ct != "" {
		dst[contentType] = []string{ct}
		return
	}
	dst[contentType] = nil
}
