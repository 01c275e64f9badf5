package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDeriveFallbackMetadataFromLayout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	metadata := deriveFallbackMetadata(root, filepath.Join(root, "Artist", "Album", "07 - Title.flac"))

	if metadata.title != "Title" || metadata.artist != "Artist" || metadata.album != "Album" {
		t.Fatalf("unexpected metadata %+v", metadata)
	}
	if metadata.trackNo == nil || *metadata.trackNo != 7 {
		t.Fatalf("expected track number 7, got %v", metadata.trackNo)
	}
	if metadata.codec != "flac" {
		t.Fatalf("expected flac codec, got %q", metadata.codec)
	}
}

func TestDeriveMetadataFallsBackForUnreadableFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "Loose Track.mp3")
	if err := os.WriteFile(path, []byte("not really an mp3"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	metadata := deriveMetadata(root, path)
	if metadata.title != "Loose Track" || metadata.artist != "Unknown Artist" || metadata.albumArtist != "Unknown Artist" {
		t.Fatalf("unexpected metadata %+v", metadata)
	}
	if metadata.durationMS != nil {
		t.Fatalf("expected no duration for a broken mp3, got %d", *metadata.durationMS)
	}

	encoded, err := metadata.tagsJSON()
	if err != nil {
		t.Fatalf("encode tags: %v", err)
	}
	if !strings.Contains(encoded, metadataVersionMarker) {
		t.Fatalf("expected metadata version marker in %s", encoded)
	}
}
