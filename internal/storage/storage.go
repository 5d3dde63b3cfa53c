// Package storage persists pipeline artifacts. Both stores are idempotent:
// persisting the same request id and key twice overwrites the object and
// returns the same URL.
package storage

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
)

// ErrInvalidKey is returned for request ids or keys that would escape the
// request's namespace
var ErrInvalidKey = errors.New("invalid artifact key")

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
}

var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".json": "application/json",
}

// ObjectName returns the storage path of an artifact and its content type.
// A key without an extension gets one sniffed from data.
func ObjectName(requestID, key string, data []byte) (string, string, error) {
	if err := checkSegment(requestID); err != nil {
		return "", "", err
	}
	for _, part := range strings.Split(key, "/") {
		if err := checkSegment(part); err != nil {
			return "", "", err
		}
	}

	ext := path.Ext(key)
	if ext == "" {
		sniffed := http.DetectContentType(data)
		if i := strings.IndexByte(sniffed, ';'); i >= 0 {
			sniffed = sniffed[:i]
		}
		ext = extensions[sniffed]
		if ext == "" {
			ext = ".bin"
		}
		key += ext
	}

	contentType, ok := contentTypes[strings.ToLower(ext)]
	if !ok {
		contentType = "application/octet-stream"
	}
	return requestID + "/" + key, contentType, nil
}

func checkSegment(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return nil
}
