package frame

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// System page size. Read at startup.
var pageSize uintptr

// Allocate 'size' bytes of memory, aligned to a page boundary.
// Scaled frames and quantized model input live in page aligned memory.
func PageAlignedAlloc(size int) []byte {
	raw := make([]byte, size+int(pageSize))
	offset := pageSize - (uintptr(unsafe.Pointer(&raw[0])) % pageSize)
	if offset == pageSize {
		offset = 0
	}
	return raw[offset : int(offset)+size : int(offset)+size]
}

// Returns the system page size
func PageSize() int {
	return int(pageSize)
}

func init() {
	pageSize = uintptr(unix.Getpagesize())
}
