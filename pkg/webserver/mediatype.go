package webserver

import (
	"mime"
	"path"
	"strings"
)

// XMLContentType is sent for the alias document and .xml files.
const XMLContentType = `text/xml; charset="utf-8"`

// DefaultContentType is used for unknown extensions.
const DefaultContentType = "application/octet-stream"

var mediaTypes = map[string]string{
	"aif":  "audio/aiff",
	"aifc": "audio/aiff",
	"aiff": "audio/aiff",
	"asf":  "video/x-ms-asf",
	"asx":  "video/x-ms-asf",
	"au":   "audio/basic",
	"avi":  "video/msvideo",
	"bmp":  "image/bmp",
	"css":  "text/css",
	"dcr":  "application/x-director",
	"dib":  "image/bmp",
	"dir":  "application/x-director",
	"dxr":  "application/x-director",
	"gif":  "image/gif",
	"hqx":  "text/x-hqx",
	"htm":  "text/html",
	"html": "text/html",
	"jpe":  "image/jpeg",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"js":   "application/javascript",
	"json": "application/json",
	"m3u":  "audio/x-mpegurl",
	"mid":  "audio/midi",
	"midi": "audio/midi",
	"mov":  "video/quicktime",
	"mp2":  "audio/x-mpeg",
	"mp3":  "audio/mpeg",
	"mp4":  "video/mp4",
	"mpa":  "video/mpeg",
	"mpe":  "video/mpeg",
	"mpeg": "video/mpeg",
	"mpg":  "video/mpeg",
	"ogg":  "audio/ogg",
	"pdf":  "application/pdf",
	"png":  "image/png",
	"qt":   "video/quicktime",
	"rtf":  "application/rtf",
	"svg":  "image/svg+xml",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"txt":  "text/plain",
	"wav":  "audio/wav",
	"xbm":  "image/x-xbitmap",
	"xml":  XMLContentType,
	"zip":  "application/zip",
}

// ContentType returns the media type for a file name.
func ContentType(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" {
		return DefaultContentType
	}
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return DefaultContentType
}
