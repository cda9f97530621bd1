package fingerprint_test

import (
	"path/filepath"
	"strings"
	"testing"

	"clarion/internal/fingerprint"
	"clarion/internal/testsupport"
)

func TestIdenticalContentProducesIdenticalFingerprint(t *testing.T) {
	first, n1, err := fingerprint.FromReader(strings.NewReader("same bytes"))
	if err != nil {
		t.Fatalf("FromReader failed: %v", err)
	}
	second, n2, err := fingerprint.FromReader(strings.NewReader("same bytes"))
	if err != nil {
		t.Fatalf("FromReader failed: %v", err)
	}
	if first != second {
		t.Fatalf("fingerprints differ: %s vs %s", first, second)
	}
	if n1 != n2 || n1 != int64(len("same bytes")) {
		t.Fatalf("unexpected byte counts: %d, %d", n1, n2)
	}

	other, _, err := fingerprint.FromReader(strings.NewReader("different bytes"))
	if err != nil {
		t.Fatalf("FromReader failed: %v", err)
	}
	if other == first {
		t.Fatal("different content must not collide")
	}
}

func TestDigestWriterMatchesFromReader(t *testing.T) {
	d := fingerprint.New()
	for _, chunk := range []string{"chu", "nked ", "input"} {
		if _, err := d.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	direct, n, err := fingerprint.FromReader(strings.NewReader("chunked input"))
	if err != nil {
		t.Fatalf("FromReader failed: %v", err)
	}
	if d.Sum() != direct {
		t.Fatalf("streamed digest %s != direct digest %s", d.Sum(), direct)
	}
	if d.BytesWritten() != n {
		t.Fatalf("byte counts differ: %d vs %d", d.BytesWritten(), n)
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	testsupport.WriteFile(t, path, 4096)

	fp, size, err := fingerprint.FromFile(path)
	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}
	if !fingerprint.Valid(fp) {
		t.Fatalf("invalid fingerprint %q", fp)
	}
	if size != 4096 {
		t.Fatalf("expected 4096 bytes, got %d", size)
	}
}

func TestValid(t *testing.T) {
	fp, _, err := fingerprint.FromReader(strings.NewReader("x"))
	if err != nil {
		t.Fatalf("FromReader failed: %v", err)
	}
	if !fingerprint.Valid(fp) {
		t.Fatalf("expected %q to be valid", fp)
	}
	if fingerprint.Valid("short") {
		t.Fatal("short string must be invalid")
	}
	if fingerprint.Valid(strings.Repeat("z", fingerprint.Size)) {
		t.Fatal("non-hex string must be invalid")
	}
}
