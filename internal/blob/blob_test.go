package blob

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	at := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		folder string
		file   string
		prefix string
		suffix string
	}{
		{name: "plain", folder: "p1/instagram", file: "photo.jpg", prefix: "p1/instagram/", suffix: "-photo.jpg"},
		{name: "path stripped", folder: "/p1/fbig/", file: "../../etc/passwd", prefix: "p1/fbig/", suffix: "-passwd"},
		{name: "windows path", folder: "p1", file: `C:\Users\me\Clip 1.mov`, prefix: "p1/", suffix: "-Clip-1.mov"},
		{name: "unsafe chars", folder: "p1", file: "a b?c#.png", prefix: "p1/", suffix: "-a-b-c-.png"},
		{name: "empty name", folder: "", file: "..", prefix: "", suffix: "-upload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Key(tt.folder, tt.file, at)
			if !strings.HasPrefix(got, tt.prefix) || !strings.HasSuffix(got, tt.suffix) {
				t.Fatalf("Key(%q, %q) = %q, want prefix %q suffix %q", tt.folder, tt.file, got, tt.prefix, tt.suffix)
			}
			if strings.Contains(strings.TrimPrefix(got, tt.prefix), "/") {
				t.Fatalf("Key(%q, %q) = %q escapes its folder", tt.folder, tt.file, got)
			}
		})
	}
}

func TestKeySortsByTime(t *testing.T) {
	early := Key("f", "x", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	late := Key("f", "x", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	if early >= late {
		t.Fatalf("keys not time ordered: %q >= %q", early, late)
	}
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{name: "endpoint http", config: Config{Endpoint: "localhost:9000", Bucket: "cadence"}, want: "http://localhost:9000/cadence/k.jpg"},
		{name: "endpoint https", config: Config{Endpoint: "s3.example.com", Bucket: "media", UseSSL: true}, want: "https://s3.example.com/media/k.jpg"},
		{name: "public url", config: Config{Endpoint: "minio:9000", Bucket: "media", PublicURL: "https://cdn.example.com/"}, want: "https://cdn.example.com/k.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PublicURL(tt.config, "k.jpg"); got != tt.want {
				t.Fatalf("PublicURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewMinioStoreRequiresConfig(t *testing.T) {
	if _, err := NewMinioStore(context.Background(), Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestMemoryStoreUploadAndGet(t *testing.T) {
	store := NewMemoryStore("/api/blobs/")
	url, err := store.Upload(context.Background(), "p1/instagram", "a.png", strings.NewReader("png-bytes"), 9, "image/png")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(url, "/api/blobs/p1/instagram/") {
		t.Fatalf("url = %q", url)
	}
	obj, ok := store.Get(strings.TrimPrefix(url, "/api/blobs/"))
	if !ok {
		t.Fatal("object not found")
	}
	if string(obj.Data) != "png-bytes" || obj.ContentType != "image/png" {
		t.Fatalf("object = %+v", obj)
	}
	if _, ok := store.Get("missing"); ok {
		t.Fatal("missing key found")
	}
}

func TestMemoryStoreCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryStore("").Upload(ctx, "f", "a", strings.NewReader("x"), 1, ""); err == nil {
		t.Fatal("expected context error")
	}
}
