package moduleprop

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `id=zygisksu
name=Zygisk Next
version=v1.6.7
versionCode=167
author=Dr-TSNG
description=Yet another implementation of Zygisk, works even without root, supports KernelSU
`

func TestParseSplitsAtDescription(t *testing.T) {
	sections, err := Parse(sample)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(sections.Header, "name=Zygisk Next") {
		t.Fatalf("header missing name line: %q", sections.Header)
	}
	if strings.Contains(sections.Header, "description=") {
		t.Fatalf("header must not contain the description line: %q", sections.Header)
	}
	if sections.DescriptionPrefix != descriptionKey {
		t.Fatalf("got prefix %q, want %q", sections.DescriptionPrefix, descriptionKey)
	}
}

func TestParseMissingDescriptionErrors(t *testing.T) {
	if _, err := Parse("id=x\nname=y\n"); err == nil {
		t.Fatal("expected error for missing description line")
	}
}

func TestOverlayWriteStatusIsAtomicAndIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "module.prop")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatalf("seeding module.prop: %v", err)
	}

	overlay, err := NewOverlay(path)
	if err != nil {
		t.Fatalf("NewOverlay: %v", err)
	}

	for _, hint := range []string{StatusLoaded, StatusCrashed, StatusLoaded} {
		if err := overlay.WriteStatus(hint); err != nil {
			t.Fatalf("WriteStatus(%q): %v", hint, err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading back: %v", err)
		}
		if !strings.Contains(string(got), descriptionKey+hint) {
			t.Fatalf("overlay does not contain expected hint %q: %s", hint, got)
		}
		if !strings.Contains(string(got), "name=Zygisk Next") {
			t.Fatalf("overlay lost header content: %s", got)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("reading dir: %v", err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".module.prop.tmp-") {
				t.Fatalf("temp file left behind: %s", e.Name())
			}
		}
	}
}
