package vicap

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio"
)

// DumpFrame writes a retired buffer's surface bytes to an NPY file for
// offline inspection. The payload is the raw surface, one byte per
// element; consumers reshape using the format's bytes-per-line.
func DumpFrame(filename string, f Format, buf *Buffer) error {
	if uint32(len(buf.Surface)) < f.SizeImage {
		return fmt.Errorf("surface holds %d bytes, format needs %d", len(buf.Surface), f.SizeImage)
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return npyio.Write(file, buf.Surface[:f.SizeImage])
}
