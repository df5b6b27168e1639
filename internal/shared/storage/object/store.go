package object

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"meal-backend/internal/shared/util"
)

// ErrInvalidKey is returned for keys that escape the store root.
var ErrInvalidKey = errors.New("invalid storage key")

// Object describes a stored blob.
type Object struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// ObjectStore saves and serves meal images.
type ObjectStore interface {
	Save(ctx context.Context, key, contentType string, r io.Reader) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
	// URL returns the public URL for key, or "" when the store has none.
	URL(key string) string
}

// MealImageKey builds the storage key for a meal photo:
// meals/<user hash>/<yyyy>/<mm>/<dd>/<id>.<ext>. The request id is used as the object
// name when it is safe, a random id otherwise.
func MealImageKey(userID, requestID, contentType string, now time.Time) string {
	name := safeSegment(requestID)
	if name == "" {
		name = RandomID()
	}
	return path.Join(
		"meals",
		util.HashUserKey(userID)[:24],
		now.UTC().Format("2006/01/02"),
		name+ExtensionFor(contentType),
	)
}

// ExtensionFor maps an image content type to a file extension.
func ExtensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/heic":
		return ".heic"
	case "image/bmp":
		return ".bmp"
	default:
		return ".bin"
	}
}

// CleanKey rejects absolute and traversing keys.
func CleanKey(key string) (string, error) {
	clean := path.Clean(strings.TrimLeft(strings.TrimSpace(key), "/"))
	if clean == "." || clean == "" || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}

// RandomID returns 32 hex characters.
func RandomID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 64 {
		return ""
	}
	for _, r := range s {
		ok := r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return ""
		}
	}
	return s
}
