package relay

import (
	"mime"
	"path"
	"strings"
)

// Kind is the payload class of a requested file. It drives the MIME type,
// the staging buffer size and the yield cadence of the streaming loop.
type Kind int

const (
	Generic Kind = iota
	Audio
	Video
)

func (k Kind) String() string {
	switch k {
	case Audio:
		return "audio"
	case Video:
		return "video"
	default:
		return "generic"
	}
}

// IsMedia reports whether k is latency sensitive.
func (k Kind) IsMedia() bool { return k == Audio || k == Video }

type fileType struct {
	kind        Kind
	contentType string
}

// Extensions are compared lowercased.
var fileTypes = map[string]fileType{
	".mp3":  {Audio, "audio/mpeg"},
	".wav":  {Audio, "audio/wav"},
	".ogg":  {Audio, "audio/ogg"},
	".flac": {Audio, "audio/flac"},
	".aac":  {Audio, "audio/aac"},
	".m4a":  {Audio, "audio/mp4"},
	".mp4":  {Video, "video/mp4"},
	".mkv":  {Video, "video/x-matroska"},
	".webm": {Video, "video/webm"},
	".avi":  {Video, "video/x-msvideo"},
	".pdf":  {Generic, "application/pdf"},
	".jpg":  {Generic, "image/jpeg"},
	".jpeg": {Generic, "image/jpeg"},
	".png":  {Generic, "image/png"},
	".gif":  {Generic, "image/gif"},
	".txt":  {Generic, "text/plain; charset=utf-8"},
	".json": {Generic, "application/json"},
	".zip":  {Generic, "application/zip"},
}

const defaultContentType = "application/octet-stream"

// Target is what the relay derives once from a request path.
type Target struct {
	Path        string // remote path, as sent in RETR
	Name        string // last path element
	Ext         string // lowercased extension including the dot
	Kind        Kind
	ContentType string
}

// Classify derives the target description of a remote path.
func Classify(remote string) Target {
	name := path.Base(remote)
	ext := strings.ToLower(path.Ext(name))
	t := Target{Path: remote, Name: name, Ext: ext, ContentType: defaultContentType}
	if ft, ok := fileTypes[ext]; ok {
		t.Kind, t.ContentType = ft.kind, ft.contentType
	}
	return t
}

// Disposition returns the Content-Disposition value for types the browser
// should save rather than render, or "" when none is needed.
func (t Target) Disposition() string {
	if t.ContentType != defaultContentType {
		return ""
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": t.Name}); v != "" {
		return v
	}
	return "attachment"
}

// profile is the per-class transfer tuning.
type profile struct {
	chunk      int   // max bytes per read and per response write
	ring       int   // staging buffer capacity
	yieldEvery int64 // bytes between scheduler yields
}

func (k Kind) profile() profile {
	if k.IsMedia() {
		return profile{chunk: 4 << 10, ring: 16 << 10, yieldEvery: 4 << 10}
	}
	return profile{chunk: 32 << 10, ring: 64 << 10, yieldEvery: 256 << 10}
}
