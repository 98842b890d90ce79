package entry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/grocery-tracker/internal/auth"
)

const (
	maxBodySize    = 1 << 20  // 1MB
	maxReceiptSize = 50 << 20 // 50MB, phone photos
)

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes {"error": message}
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// fail maps a service error to a response. Only validation messages reach the caller.
func fail(w http.ResponseWriter, op string, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Grocery entry not found")
	default:
		slog.Error("Error "+op, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// decodePayload reads a JSON payload. An empty body decodes to an empty payload.
func decodePayload(w http.ResponseWriter, r *http.Request) (Payload, bool) {
	var p Payload
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&p)
	if err != nil && !errors.Is(err, io.EOF) {
		slog.Debug("Invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return Payload{}, false
	}
	return p, true
}

// handlePing is a liveness check behind the auth gate
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "pong")
}

// handleCreateEntry validates and stores a new entry
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := decodePayload(w, r)
	if !ok {
		return
	}

	entry, err := s.service.CreateEntry(r.Context(), auth.Subject(r.Context()), p)
	if err != nil {
		fail(w, "adding grocery entry", err)
		return
	}

	s.metrics.EntryWritten("create")
	writeJSON(w, http.StatusCreated, entry)
}

// handleListEntries returns the caller's entries
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListEntries(r.Context(), auth.Subject(r.Context()))
	if err != nil {
		fail(w, "fetching grocery entries", err)
		return
	}

	// Ensure we always return an array, not null
	if entries == nil {
		entries = []*Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleUpdateEntry applies a partial update
func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := decodePayload(w, r)
	if !ok {
		return
	}

	entry, err := s.service.UpdateEntry(r.Context(), auth.Subject(r.Context()), r.PathValue("id"), p)
	if err != nil {
		fail(w, "updating grocery entry", err)
		return
	}

	s.metrics.EntryWritten("update")
	writeJSON(w, http.StatusOK, entry)
}

// handleDeleteEntry removes an entry
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteEntry(r.Context(), auth.Subject(r.Context()), r.PathValue("id")); err != nil {
		fail(w, "deleting grocery entry", err)
		return
	}

	s.metrics.EntryWritten("delete")
	w.WriteHeader(http.StatusNoContent)
}

// handleStreamEntries pushes the caller's entry list as Server-Sent Events,
// once on connect and again after every write, until the client goes away.
func (s *Server) handleStreamEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := auth.Subject(ctx)

	sub := s.service.Subscribe(subject)
	defer sub.Stop()

	entries, err := s.service.ListEntries(ctx, subject)
	if err != nil {
		fail(w, "fetching grocery entries", err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, rc, entries); err != nil {
		slog.Debug("Entry stream closed", "subject", subject, "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.streams.Done():
			return
		case snapshot, ok := <-sub.Updates():
			if !ok {
				return
			}
			if err := writeEvent(w, rc, snapshot); err != nil {
				slog.Debug("Entry stream closed", "subject", subject, "error", err)
				return
			}
		}
	}
}

// writeEvent writes one SSE data event and flushes it
func writeEvent(w io.Writer, rc *http.ResponseController, entries []*Entry) error {
	if entries == nil {
		entries = []*Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return rc.Flush()
}

// handleScanReceipt reads an uploaded receipt and returns a suggested payload
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReceiptSize)
	if err := r.ParseMultipartForm(maxReceiptSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromExt(header.Filename)
	}

	suggestion, err := s.service.ScanReceipt(r.Context(), data, contentType)
	if err != nil {
		fail(w, "scanning receipt", err)
		return
	}

	writeJSON(w, http.StatusOK, suggestion)
}

// contentTypeFromExt guesses a receipt's type from its file name
func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}
