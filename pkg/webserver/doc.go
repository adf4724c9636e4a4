// Package webserver serves description documents and files over HTTP.
//
// Three sources are consulted in order for a GET or HEAD request:
//
//   - alias documents, in-memory XML documents each under its own path
//     (normally one device description per root device);
//   - virtual directories, path prefixes whose content comes from
//     application callbacks;
//   - the root directory on disk.
//
// Range and If-Modified-Since requests are answered by http.ServeContent.
// Paths are normalised before lookup and a path that resolves outside the
// root directory is answered with 404.
package webserver
