package relay

import (
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/gonzalop/ftpbridge/ftp"
)

//go:embed web/index.html
var indexHTML []byte

// FileInfo is one element of the /list response.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (h *Handler) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(indexHTML)
}

// serveList runs LIST on the list directory and returns its regular files.
func (h *Handler) serveList(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With("dir", h.listDir)
	sess, err := h.connect(r.Context())
	if err != nil {
		h.fail(w, log, "ftp_connect_failed", err)
		return
	}
	defer sess.Close()

	entries, err := sess.List(r.Context(), h.listDir)
	if err != nil {
		h.fail(w, log, "ftp_list_failed", err)
		return
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsFile() || e.Name == "." || e.Name == ".." {
			continue
		}
		files = append(files, FileInfo{Name: e.Name, Size: e.Size})
	}
	log.Debug("list_complete", "files", len(files))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(files); err != nil {
		log.Debug("client_disconnected", "error", err)
	}
}

// serveDelete removes a file from the list directory with DELE.
func (h *Handler) serveDelete(w http.ResponseWriter, r *http.Request) {
	name, ok := cleanName(mux.Vars(r)["name"])
	if !ok {
		http.Error(w, "Invalid file name", http.StatusBadRequest)
		return
	}
	remote := path.Join(h.listDir, name)
	log := h.logger.With("path", remote)

	sess, err := h.connect(r.Context())
	if err != nil {
		h.fail(w, log, "ftp_connect_failed", err)
		return
	}
	defer sess.Close()

	if err := sess.Delete(remote); err != nil {
		if errors.Is(err, ftp.ErrNotFound) {
			log.Warn("delete_failed", "error", err)
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		h.fail(w, log, "delete_failed", err)
		return
	}
	log.Info("file_deleted")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "File deleted")
}

// serveUpload streams every file part of a multipart body into STOR
// without holding the body in memory.
func (h *Handler) serveUpload(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "Expected multipart/form-data", http.StatusBadRequest)
		return
	}

	var sess *ftp.Session
	defer func() {
		if sess != nil {
			_ = sess.Close()
		}
	}()

	stored := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.uploadError(w, err)
			return
		}
		name, ok := cleanName(path.Base(strings.ReplaceAll(part.FileName(), `\`, "/")))
		if part.FileName() == "" || !ok {
			_ = part.Close()
			continue
		}

		remote := path.Join(h.uploadDir, name)
		log := h.logger.With("path", remote)
		if sess == nil {
			if sess, err = h.connect(r.Context()); err != nil {
				h.fail(w, log, "ftp_connect_failed", err)
				return
			}
		}
		n, err := sess.Store(r.Context(), remote, part)
		_ = part.Close()
		if errors.Is(err, ftp.ErrUploadIncomplete) {
			h.removePartial(log, sess, remote)
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				h.uploadError(w, err)
				return
			}
			h.fail(w, log, "upload_failed", err)
			return
		}
		stored++
		log.Info("file_uploaded", "bytes", n, "size", humanize.Bytes(uint64(n)))
	}

	if stored == 0 {
		http.Error(w, "No file in request", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "File uploaded")
}

// removePartial deletes what a cut-short STOR left behind. Best effort: the
// session may already be unusable.
func (h *Handler) removePartial(log *slog.Logger, sess *ftp.Session, remote string) {
	if err := sess.Delete(remote); err != nil && !errors.Is(err, ftp.ErrNotFound) {
		log.Warn("partial_upload_kept", "error", err)
		return
	}
	log.Debug("partial_upload_removed")
}

func (h *Handler) uploadError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
		return
	}
	h.logger.Warn("upload_rejected", "error", err)
	http.Error(w, "Malformed multipart body", http.StatusBadRequest)
}

// serveDownload relays any file of the list directory.
func (h *Handler) serveDownload(w http.ResponseWriter, r *http.Request) {
	name, ok := cleanName(mux.Vars(r)["name"])
	if !ok {
		http.Error(w, "Invalid file name", http.StatusBadRequest)
		return
	}
	h.relay(w, r, path.Join(h.listDir, name))
}

// cleanName accepts a single path element.
func cleanName(name string) (string, bool) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\r\n") {
		return "", false
	}
	return name, true
}
