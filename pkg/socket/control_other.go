//go:build !unix

package socket

// applyOptions is a no-op where golang.org/x/sys/unix is unavailable. The
// runtime already sets SO_REUSEADDR on Windows listeners.
func applyOptions(fd uintptr, network string, o Options) error {
	return nil
}
