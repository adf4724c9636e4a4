package main

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/webserver"
)

// fsDir serves a read-only file system as a web server virtual
// directory. Request paths map to names within fsys.
type fsDir struct {
	fsys    fs.FS
	modTime time.Time
}

var _ webserver.VirtualDir = (*fsDir)(nil)

func newFSDir(fsys fs.FS) *fsDir {
	return &fsDir{fsys: fsys, modTime: time.Now().Truncate(time.Second)}
}

func (d *fsDir) name(p string) string {
	return strings.TrimPrefix(p, "/")
}

func (d *fsDir) Stat(_ context.Context, p string) (webserver.FileInfo, error) {
	info, err := fs.Stat(d.fsys, d.name(p))
	if err != nil {
		return webserver.FileInfo{}, err
	}
	mod := info.ModTime()
	if mod.IsZero() {
		// Embedded files carry no time.
		mod = d.modTime
	}
	return webserver.FileInfo{
		Size:         info.Size(),
		LastModified: mod,
		IsDir:        info.IsDir(),
	}, nil
}

func (d *fsDir) Open(_ context.Context, p string) (io.ReadSeekCloser, error) {
	b, err := fs.ReadFile(d.fsys, d.name(p))
	if err != nil {
		return nil, err
	}
	return nopCloser{bytes.NewReader(b)}, nil
}

type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error { return nil }
