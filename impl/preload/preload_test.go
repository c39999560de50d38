package preload

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/aceeric/dxdocker/impl/dxerr"
)

var imageList = `
# tools
ubuntu:14.04
  quay.io/ucsc_cgl/samtools

# pinned
geetduggal/testdocker@sha256:` + strings.Repeat("a", 64) + `
`

func TestReadRefs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images")
	os.WriteFile(path, []byte(imageList), 0644)
	refs, err := ReadRefs(path)
	if err != nil {
		t.Fatal(err)
	}
	expect := []string{"ubuntu:14.04", "quay.io/ucsc_cgl/samtools", "geetduggal/testdocker@sha256:" + strings.Repeat("a", 64)}
	if !slices.Equal(refs, expect) {
		t.Errorf("expected %v, got %v", expect, refs)
	}
}

func TestReadRefsBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images")
	os.WriteFile(path, []byte("ubuntu:14.04\n\nUbuntu:bad\n"), 0644)
	refs, err := ReadRefs(path)
	if !dxerr.Is(err, dxerr.MalformedReference) || refs != nil {
		t.Errorf("expected a malformed reference error, got %v %v", refs, err)
	}
	if !strings.Contains(err.Error(), "line 3") {
		t.Errorf("expected the line number in %q", err)
	}
	if _, err := ReadRefs(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Errorf("expected an error for a missing file")
	}
}
