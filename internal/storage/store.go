// Package storage persists labelled inspection images and walkaround videos
// under vehicle-scoped keys.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/ridecheck/internal/media"
)

var ErrNotFound = errors.New("object not found")

type Object struct {
	Key         string
	Body        []byte
	ContentType string
}

// Store is an object store returning a public URL for every put.
type Store interface {
	Put(ctx context.Context, obj Object) (string, error)
	Get(ctx context.Context, key string) (Object, error)
	Name() string
}

// ImageKey is <vehicle>/<label>.<ext>.
func ImageKey(vehicleID, label, contentType string) string {
	return fmt.Sprintf("%s/%s.%s", vehicleID, label, media.Extension(contentType, "jpg"))
}

var whitespace = regexp.MustCompile(`\s+`)

// VideoKey is <vehicle>/videos/<name>.<ext>. Blank names become the upload
// time in unix milliseconds.
func VideoKey(vehicleID, name, contentType string, now time.Time) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = strconv.FormatInt(now.UnixMilli(), 10)
	}
	name = whitespace.ReplaceAllString(name, "_")
	return fmt.Sprintf("%s/videos/%s.%s", vehicleID, name, media.Extension(contentType, "mp4"))
}

// ValidVehicleID rejects ids that would escape their key prefix.
func ValidVehicleID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && !strings.ContainsAny(id, "/\\") && id != "." && id != ".."
}

type Options struct {
	// Provider is auto, s3 or memory.
	Provider string
	S3       S3Config
}

// New returns an S3 store when a bucket is configured (or s3 is forced),
// otherwise an in-memory store.
func New(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "auto":
		if strings.TrimSpace(opts.S3.Bucket) == "" {
			return NewMemory(""), nil
		}
		return NewS3(ctx, opts.S3)
	case "s3":
		return NewS3(ctx, opts.S3)
	case "memory":
		return NewMemory(""), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", opts.Provider)
	}
}
