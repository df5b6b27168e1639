package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	put     *s3.PutObjectInput
	body    []byte
	getKey  string
	content string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.getKey = aws.ToString(in.Key)
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(strings.NewReader(f.content)),
		ContentType: aws.String("image/jpeg"),
	}, nil
}

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "meals/a.jpg", want: "meals/a.jpg"},
		{name: "simple prefix", prefix: "prod", key: "meals/a.jpg", want: "prod/meals/a.jpg"},
		{name: "prefix trailing slash", prefix: "prod/", key: "meals/a.jpg", want: "prod/meals/a.jpg"},
		{name: "prefix and key slashes", prefix: "/prod/", key: "/meals/a.jpg", want: "prod/meals/a.jpg"},
		{name: "nested prefix", prefix: "prod/eu", key: "meals/a.jpg", want: "prod/eu/meals/a.jpg"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

func TestSaveUploadsWithEncryption(t *testing.T) {
	api := &fakeS3{}
	store := newStore(api, "us-east-1", Options{Bucket: "meal-images", Prefix: "prod"})

	obj, err := store.Save(context.Background(), "meals/u/req.jpg", "image/jpeg", strings.NewReader("jpeg"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if aws.ToString(api.put.Key) != "prod/meals/u/req.jpg" || string(api.body) != "jpeg" {
		t.Fatalf("unexpected upload key=%s body=%q", aws.ToString(api.put.Key), api.body)
	}
	if api.put.ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Fatalf("expected AES256 encryption, got %q", api.put.ServerSideEncryption)
	}
	if obj.Size != 4 || obj.URL != "https://meal-images.s3.us-east-1.amazonaws.com/prod/meals/u/req.jpg" {
		t.Fatalf("unexpected object %+v", obj)
	}
}

func TestSaveWithKMSAndPublicURL(t *testing.T) {
	api := &fakeS3{}
	store := newStore(api, "auto", Options{
		Bucket:        "meal-images",
		Endpoint:      "https://account.r2.cloudflarestorage.com",
		PublicBaseURL: "https://cdn.example.com/",
		KMSKeyID:      "key-1",
	})

	obj, err := store.Save(context.Background(), "meals/u/req.jpg", "image/jpeg", strings.NewReader("jpeg"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if api.put.ServerSideEncryption != s3types.ServerSideEncryptionAwsKms || aws.ToString(api.put.SSEKMSKeyId) != "key-1" {
		t.Fatalf("expected KMS encryption, got %+v", api.put)
	}
	if obj.URL != "https://cdn.example.com/meals/u/req.jpg" {
		t.Fatalf("unexpected url %q", obj.URL)
	}
}

func TestCustomEndpointWithoutPublicURL(t *testing.T) {
	store := newStore(&fakeS3{}, "auto", Options{Bucket: "b", Endpoint: "http://minio:9000"})
	if got := store.URL("meals/a.jpg"); got != "" {
		t.Fatalf("expected no public url, got %q", got)
	}
}

func TestOpenReturnsContentType(t *testing.T) {
	api := &fakeS3{content: "jpeg"}
	store := newStore(api, "us-east-1", Options{Bucket: "b", Prefix: "prod"})

	rc, contentType, err := store.Open(context.Background(), "meals/a.jpg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	if api.getKey != "prod/meals/a.jpg" || contentType != "image/jpeg" {
		t.Fatalf("unexpected get key=%s type=%s", api.getKey, contentType)
	}
}
