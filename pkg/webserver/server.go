package webserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upnpsdk/upnpsdk-go/pkg/log"
	"github.com/upnpsdk/upnpsdk-go/pkg/uri"
)

// Web server errors.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrExists          = errors.New("virtual directory already registered")
)

// FileInfo describes a virtual file.
type FileInfo struct {
	Size         int64
	LastModified time.Time
	IsDir        bool
	// ContentType overrides the type derived from the file name.
	ContentType string
	// Header holds extra response headers.
	Header http.Header
}

// VirtualDir supplies the content below a virtual directory prefix.
// Paths passed in are absolute request paths with dot segments removed.
type VirtualDir interface {
	Stat(ctx context.Context, path string) (FileInfo, error)
	Open(ctx context.Context, path string) (io.ReadSeekCloser, error)
}

// Config configures a Server.
type Config struct {
	// RootDir is served for paths no alias or virtual directory claims.
	// Empty disables file serving.
	RootDir string

	// ServerHeader is sent as SERVER on every response.
	ServerHeader string

	// ContentLanguage is sent as CONTENT-LANGUAGE when the request carries
	// ACCEPT-LANGUAGE.
	ContentLanguage string

	// CORS is sent as Access-Control-Allow-Origin when set.
	CORS string

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

type alias struct {
	name         string
	doc          []byte
	lastModified time.Time
}

// Server is an http.Handler serving alias documents, virtual
// directories and the root directory.
type Server struct {
	mu          sync.RWMutex
	config      Config
	aliases     map[string]*alias
	virtualDirs map[string]VirtualDir
	prefixes    []string

	logger *slog.Logger
	plog   log.Logger
}

var _ http.Handler = (*Server)(nil)

// New creates a server.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Server{
		config:      config,
		aliases:     make(map[string]*alias),
		virtualDirs: make(map[string]VirtualDir),
		logger:      config.Logger,
		plog:        log.OrNoop(config.ProtocolLogger),
	}
}

func aliasPath(name string) string {
	if !strings.HasPrefix(name, "/") {
		return "/" + name
	}
	return name
}

// SetAlias serves doc under name, replacing a document already served
// there. A missing leading '/' is inserted.
func (s *Server) SetAlias(name string, doc []byte, lastModified time.Time) error {
	if name == "" || name == "/" {
		return fmt.Errorf("%w: empty alias name", ErrInvalidArgument)
	}
	if doc == nil {
		return fmt.Errorf("%w: nil alias document", ErrInvalidArgument)
	}
	if lastModified.IsZero() {
		lastModified = time.Now()
	}
	name = aliasPath(name)
	s.mu.Lock()
	s.aliases[name] = &alias{name: name, doc: append([]byte(nil), doc...), lastModified: lastModified}
	s.mu.Unlock()
	return nil
}

// RemoveAlias stops serving the document at name. It reports whether one
// was served.
func (s *Server) RemoveAlias(name string) bool {
	name = aliasPath(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.aliases[name]; !ok {
		return false
	}
	delete(s.aliases, name)
	return true
}

// HasAlias reports whether a document is served at name.
func (s *Server) HasAlias(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.aliases[aliasPath(name)]
	return ok
}

// Aliases returns the sorted alias paths.
func (s *Server) Aliases() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.aliases))
	for name := range s.aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetRootDir changes the directory served from disk.
func (s *Server) SetRootDir(dir string) error {
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrInvalidArgument, dir)
		}
	}
	s.mu.Lock()
	s.config.RootDir = dir
	s.mu.Unlock()
	return nil
}

// SetCORS sets the Access-Control-Allow-Origin value. Empty disables it.
func (s *Server) SetCORS(origin string) {
	s.mu.Lock()
	s.config.CORS = origin
	s.mu.Unlock()
}

// AddVirtualDir routes requests below prefix to vd. A missing leading '/'
// is inserted and a trailing '/' is ignored.
func (s *Server) AddVirtualDir(prefix string, vd VirtualDir) error {
	if vd == nil {
		return fmt.Errorf("%w: nil virtual directory", ErrInvalidArgument)
	}
	prefix = normalizePrefix(prefix)
	if prefix == "/" {
		return fmt.Errorf("%w: empty virtual directory prefix", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.virtualDirs[prefix]; ok {
		return fmt.Errorf("%w: %s", ErrExists, prefix)
	}
	s.virtualDirs[prefix] = vd
	s.prefixes = append(s.prefixes, prefix)
	// Longest prefix first.
	sort.Slice(s.prefixes, func(i, j int) bool { return len(s.prefixes[i]) > len(s.prefixes[j]) })
	return nil
}

// RemoveVirtualDir removes a virtual directory.
func (s *Server) RemoveVirtualDir(prefix string) error {
	prefix = normalizePrefix(prefix)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.virtualDirs[prefix]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, prefix)
	}
	delete(s.virtualDirs, prefix)
	for i, p := range s.prefixes {
		if p == prefix {
			s.prefixes = append(s.prefixes[:i], s.prefixes[i+1:]...)
			break
		}
	}
	return nil
}

// ClearVirtualDirs removes every virtual directory.
func (s *Server) ClearVirtualDirs() {
	s.mu.Lock()
	s.virtualDirs = make(map[string]VirtualDir)
	s.prefixes = nil
	s.mu.Unlock()
}

func normalizePrefix(p string) string {
	p = strings.TrimRight(p, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	connID := uuid.New().String()
	s.capture(connID, log.DirectionIn, r.RemoteAddr, &log.MessageEvent{
		Type:   log.MessageTypeRequest,
		Method: r.Method,
		Target: r.URL.RequestURI(),
	})
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		elapsed := time.Since(start)
		s.capture(connID, log.DirectionOut, r.RemoteAddr, &log.MessageEvent{
			Type:           log.MessageTypeResponse,
			Method:         r.Method,
			Status:         rec.status,
			BodySize:       int(rec.written),
			ProcessingTime: &elapsed,
		})
	}()

	s.mu.RLock()
	config := s.config
	s.mu.RUnlock()

	h := rec.Header()
	if config.ServerHeader != "" {
		h.Set("Server", config.ServerHeader)
	}
	if config.CORS != "" {
		h.Set("Access-Control-Allow-Origin", config.CORS)
	}
	if config.ContentLanguage != "" && r.Header.Get("Accept-Language") != "" {
		h.Set("Content-Language", config.ContentLanguage)
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(rec, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	p := uri.RemoveDots(uri.RemoveEscapedChars(r.URL.EscapedPath()))
	if p == "" {
		p = "/"
	}

	s.mu.RLock()
	a := s.aliases[p]
	s.mu.RUnlock()
	if a != nil {
		h.Set("Content-Type", XMLContentType)
		http.ServeContent(rec, r, a.name, a.lastModified, bytes.NewReader(a.doc))
		return
	}

	if vd, ok := s.lookupVirtualDir(p); ok {
		s.serveVirtual(rec, r, vd, p)
		return
	}

	if config.RootDir == "" {
		http.NotFound(rec, r)
		return
	}
	s.serveFile(rec, r, config.RootDir, p)
}

func (s *Server) lookupVirtualDir(p string) (VirtualDir, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, prefix := range s.prefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return s.virtualDirs[prefix], true
		}
	}
	return nil, false
}

func (s *Server) serveVirtual(w http.ResponseWriter, r *http.Request, vd VirtualDir, p string) {
	info, err := vd.Stat(r.Context(), p)
	if err != nil || info.IsDir {
		http.NotFound(w, r)
		return
	}
	f, err := vd.Open(r.Context(), p)
	if err != nil {
		s.logger.Debug("virtual dir open failed", "path", p, "error", err)
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	for k, v := range info.Header {
		w.Header()[k] = v
	}
	ct := info.ContentType
	if ct == "" {
		ct = ContentType(p)
	}
	w.Header().Set("Content-Type", ct)
	http.ServeContent(w, r, p, info.LastModified, f)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, root, p string) {
	full, err := confine(root, p)
	if err != nil {
		s.logger.Debug("web request refused", "path", p, "error", err)
		http.NotFound(w, r)
		return
	}
	info, err := os.Stat(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if info.IsDir() {
		full = filepath.Join(full, "index.html")
		if info, err = os.Stat(full); err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
	}

	f, err := os.Open(full) // #nosec G304 -- confined to the root directory
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", ContentType(full))
	http.ServeContent(w, r, filepath.Base(full), info.ModTime(), f)
}

// confine maps a request path into root, refusing paths that leave root,
// also through symbolic links.
func confine(root, p string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", err
	}
	rel := filepath.FromSlash(strings.TrimPrefix(p, "/"))
	if rel != "" && !filepath.IsLocal(rel) {
		return "", fs.ErrPermission
	}
	full := filepath.Join(realRoot, rel)
	real, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", err
	}
	r, err := filepath.Rel(realRoot, real)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fs.ErrPermission
	}
	return real, nil
}

func (s *Server) capture(connID string, dir log.Direction, remote string, msg *log.MessageEvent) {
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerHTTP,
		Category:     log.CategoryWeb,
		LocalRole:    log.RoleDevice,
		RemoteAddr:   remote,
		Message:      msg,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
	wrote   bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}
