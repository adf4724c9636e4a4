//go:build !unix

package version

func osRelease() string { return "" }
