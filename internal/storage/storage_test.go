package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestKeys(t *testing.T) {
	if got := ImageKey("v42", "front_tyre", "image/jpeg"); got != "v42/front_tyre.jpg" {
		t.Fatalf("ImageKey() = %q", got)
	}
	if got := ImageKey("v42", "odometer_value", "image/png"); got != "v42/odometer_value.png" {
		t.Fatalf("ImageKey(png) = %q", got)
	}
	now := time.UnixMilli(1700000000123)
	if got := VideoKey("v42", "walk around  clip", "video/webm", now); got != "v42/videos/walk_around_clip.webm" {
		t.Fatalf("VideoKey() = %q", got)
	}
	if got := VideoKey("v42", "", "", now); got != "v42/videos/1700000000123.mp4" {
		t.Fatalf("VideoKey(default) = %q", got)
	}
}

func TestValidVehicleID(t *testing.T) {
	for _, id := range []string{"v1", "KA-01-1234"} {
		if !ValidVehicleID(id) {
			t.Fatalf("ValidVehicleID(%q) = false", id)
		}
	}
	for _, id := range []string{"", " ", "a/b", "..", `a\b`} {
		if ValidVehicleID(id) {
			t.Fatalf("ValidVehicleID(%q) = true", id)
		}
	}
}

func TestMemoryPutGet(t *testing.T) {
	m := NewMemory("")
	ctx := context.Background()
	url, err := m.Put(ctx, Object{Key: "v1/front_tyre.jpg", Body: []byte{1, 2}, ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if url != "memory://ridecheck/v1/front_tyre.jpg" {
		t.Fatalf("Put() url = %q", url)
	}
	obj, err := m.Get(ctx, "v1/front_tyre.jpg")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(obj.Body, []byte{1, 2}) || obj.ContentType != "image/jpeg" {
		t.Fatalf("Get() = %+v", obj)
	}
	if _, err := m.Get(ctx, "v1/missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if keys := m.Keys("v1/"); len(keys) != 1 {
		t.Fatalf("Keys() = %v", keys)
	}
}

type fakeS3 struct {
	puts    []*s3.PutObjectInput
	objects map[string][]byte
	putErr  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.puts = append(f.puts, in)
	body, _ := io.ReadAll(in.Body)
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body)), ContentType: aws.String("image/jpeg")}, nil
}

func TestS3PutReturnsPublicURL(t *testing.T) {
	api := &fakeS3{}
	store := NewS3WithClient(api, S3Config{Bucket: "inspections"})
	url, err := store.Put(context.Background(), Object{Key: "v1/front_tyre.jpg", Body: []byte("jpeg"), ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if url != "https://inspections.s3.amazonaws.com/v1/front_tyre.jpg" {
		t.Fatalf("Put() url = %q", url)
	}
	in := api.puts[0]
	if aws.ToString(in.Bucket) != "inspections" || aws.ToString(in.ContentType) != "image/jpeg" {
		t.Fatalf("PutObjectInput = %+v", in)
	}

	custom := NewS3WithClient(api, S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"})
	if got := custom.URL("k"); got != "https://cdn.example.com/k" {
		t.Fatalf("URL() = %q", got)
	}
}

func TestS3GetMapsMissingKey(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{"v1/a.jpg": []byte("x")}}
	store := NewS3WithClient(api, S3Config{Bucket: "b"})
	obj, err := store.Get(context.Background(), "v1/a.jpg")
	if err != nil || string(obj.Body) != "x" {
		t.Fatalf("Get() = %+v, %v", obj, err)
	}
	if _, err := store.Get(context.Background(), "v1/b.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestS3PutWrapsError(t *testing.T) {
	store := NewS3WithClient(&fakeS3{putErr: errors.New("denied")}, S3Config{Bucket: "b"})
	if _, err := store.Put(context.Background(), Object{Key: "k"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewSelectsProvider(t *testing.T) {
	s, err := New(context.Background(), Options{})
	if err != nil || s.Name() != "memory" {
		t.Fatalf("New(auto) = %v, %v", s, err)
	}
	if _, err := New(context.Background(), Options{Provider: "s3"}); err == nil {
		t.Fatalf("expected error for s3 without bucket")
	}
	if _, err := New(context.Background(), Options{Provider: "gcs"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
