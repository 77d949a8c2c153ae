package vicap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio"
)

func TestDumpFrameRoundTrip(t *testing.T) {
	f := Format{Width: 8, Height: 2, BytesPerLine: 16, SizeImage: 32}
	buf := &Buffer{Surface: make([]byte, 64)}
	for i := range buf.Surface {
		buf.Surface[i] = byte(i)
	}

	name := filepath.Join(t.TempDir(), "frame.npy")
	if err := DumpFrame(name, f, buf); err != nil {
		t.Fatalf("DumpFrame failed: %v", err)
	}

	file, err := os.Open(name)
	if err != nil {
		t.Fatalf("opening the dump: %v", err)
	}
	defer file.Close()

	var got []byte
	if err := npyio.Read(file, &got); err != nil {
		t.Fatalf("reading the dump back: %v", err)
	}
	// only the frame itself is written, not the surface slack
	if len(got) != int(f.SizeImage) {
		t.Fatalf("dump holds %d bytes, want %d", len(got), f.SizeImage)
	}
	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("dump byte %d is %d, want %d", i, b, i)
		}
	}
}

func TestDumpFrameShortSurface(t *testing.T) {
	f := Format{Width: 8, Height: 2, BytesPerLine: 16, SizeImage: 32}
	buf := &Buffer{Surface: make([]byte, 16)}
	if err := DumpFrame(filepath.Join(t.TempDir(), "frame.npy"), f, buf); err == nil {
		t.Errorf("DumpFrame accepted a surface smaller than the frame")
	}
}
