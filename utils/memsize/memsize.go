// Package memsize provides byte size constants.
package memsize

// Binary byte sizes.
const (
	B  uint64 = 1
	KB        = 1024 * B
	MB        = 1024 * KB
	GB        = 1024 * MB
)
