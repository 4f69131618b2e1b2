package media

import (
	"regexp"
	"strings"
	"testing"

	"github.com/gitsmash/mapid/internal/domain/enums"
)

var objectKeyPattern = regexp.MustCompile(
	`^user_\d+/(post_\d+|staging)/\d{8}T\d{6}_[0-9a-f-]{36}_(thumbnail|medium|full|original)\.[a-z0-9]+$`)

func TestBuildObjectKeyFormat(t *testing.T) {
	key := BuildObjectKey(42, 7, enums.VariantThumbnail, ".webp")
	if !objectKeyPattern.MatchString(key) {
		t.Fatalf("key %q does not match expected layout", key)
	}
	if !strings.HasPrefix(key, "user_42/post_7/") {
		t.Fatalf("key %q missing owner/post prefix", key)
	}
	if !strings.HasSuffix(key, "_thumbnail.webp") {
		t.Fatalf("key %q missing variant suffix", key)
	}
}

func TestBuildObjectKeyStaging(t *testing.T) {
	key := BuildObjectKey(42, 0, enums.VariantOriginal, "jpg")
	if !strings.HasPrefix(key, "user_42/staging/") {
		t.Fatalf("key %q should use staging segment without a post id", key)
	}
}

func TestBuildObjectKeyNormalizesExt(t *testing.T) {
	key := BuildObjectKey(1, 1, enums.VariantFull, " .JPG ")
	if !strings.HasSuffix(key, "_full.jpg") {
		t.Fatalf("key %q should lowercase and trim the extension", key)
	}

	key = BuildObjectKey(1, 1, enums.VariantFull, "")
	if !strings.HasSuffix(key, "_full.bin") {
		t.Fatalf("key %q should fall back to .bin", key)
	}
}

func TestBuildObjectKeyUnique(t *testing.T) {
	a := BuildObjectKey(1, 1, enums.VariantMedium, "webp")
	b := BuildObjectKey(1, 1, enums.VariantMedium, "webp")
	if a == b {
		t.Fatal("two keys for the same upload must not collide")
	}
}

func TestPublicURLPrefersConfiguredBase(t *testing.T) {
	s := NewS3Storage(nil, S3Config{
		Bucket:    "mapid-media",
		PublicURL: "https://cdn.example.com/",
	})

	got := s.publicURL("user_1/post_2/x_thumbnail.webp")
	want := "https://cdn.example.com/mapid-media/user_1/post_2/x_thumbnail.webp"
	if got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}
}

func TestPublicURLFallsBackToEndpoint(t *testing.T) {
	s := NewS3Storage(nil, S3Config{
		Bucket:   "mapid-media",
		Endpoint: "localhost:9000",
		UseSSL:   false,
	})

	got := s.publicURL("a/b/c.jpg")
	if got != "http://localhost:9000/mapid-media/a/b/c.jpg" {
		t.Fatalf("url = %q", got)
	}
}
