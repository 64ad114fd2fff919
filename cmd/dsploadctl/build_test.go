package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const descriptor = `
modules:
  - uuid: 54cf5598-8b29-11ec-a8a3-0242ac120002
    entry_point: 0x01000000
    instance_max_count: 2
    code:   {base: 0x01000000, pages: 1, file: a_text.bin}
    rodata: {base: 0x01100000, pages: 1}
    bss:    {base: 0x01200000, pages: 4}
  - uuid: a8f16db8-6bd0-48b2-a087-c7b420c0c1f9
    entry_point: 0x03000000
    instance_max_count: 1
    lib_code: true
    code:   {base: 0x03000000, pages: 1, file: s_text.bin}
    rodata: {base: 0x03100000, pages: 1}
`

// writeFixture lays out a descriptor plus payload files and returns the
// descriptor path.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string][]byte{
		"lib.yaml":   []byte(descriptor),
		"a_text.bin": []byte("module A code"),
		"s_text.bin": []byte("shared routines"),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", name, err)
		}
	}
	return filepath.Join(dir, "lib.yaml")
}

func TestBuildInfoIngestRoundTrip(t *testing.T) {
	quiet = true
	defer func() { quiet = false }()

	descPath := writeFixture(t)
	imgPath := filepath.Join(filepath.Dir(descPath), "lib.img")

	buildOutput = imgPath
	if err := runBuild([]string{descPath}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if info, err := os.Stat(imgPath); err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty image at %s: %v", imgPath, err)
	}

	if err := runInfo([]string{imgPath}); err != nil {
		t.Fatalf("info: %v", err)
	}

	ingestLib, ingestChannel, ingestLoad = 1, 0, true
	if err := runIngest(context.Background(), []string{imgPath}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func TestBuildRejectsEmptyDescriptor(t *testing.T) {
	dir := t.TempDir()
	descPath := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(descPath, []byte("modules: []\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	buildOutput = filepath.Join(dir, "out.img")
	if err := runBuild([]string{descPath}); err == nil {
		t.Fatal("expected error for descriptor with no modules")
	}
}

func TestInfoRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.bin")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := runInfo([]string{path}); err == nil {
		t.Fatal("expected error for non-image file")
	}
}
