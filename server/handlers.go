package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	papervault "github.com/wolfeidau/paper-vault"
	"github.com/wolfeidau/paper-vault/backend"
	"github.com/wolfeidau/paper-vault/vault"
)

// maxUploadMemory bounds the in-memory portion of multipart parsing;
// larger files spill to disk.
const maxUploadMemory = 32 << 20

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleStats reports aggregate storage usage.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.blobs.TotalSize(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_blob_bytes": total,
		"max_total_bytes":  s.config.MaxTotalBytes,
	})
}

// handleUpload accepts a multipart file upload into a project. The
// form carries the file under "file", with optional "id" and "title"
// fields.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, fmt.Sprintf("parsing multipart form: %v", err), http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, `missing "file" form field`, http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}

	doc, err := s.vault.AddDocument(r.Context(), project, vault.Upload{
		ID:        r.FormValue("id"),
		Title:     title,
		MediaType: header.Header.Get("Content-Type"),
		Content:   file,
	})
	if err != nil {
		writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// handleList lists a project's documents. The "view" query parameter
// selects active (default) or trashed documents.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	docs, err := s.vault.ListDocuments(r.Context(), project, vault.View(r.URL.Query().Get("view")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if docs == nil {
		docs = []*papervault.Document{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleGetDocument returns a single document record.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.vault.GetDocument(r.Context(), r.PathValue("project"), r.PathValue("id"))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleContent streams the document's file content.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	doc, rc, err := s.vault.OpenDocument(r.Context(), r.PathValue("project"), r.PathValue("id"))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	defer func() { _ = rc.Close() }()

	if doc.MediaType != "" {
		w.Header().Set("Content-Type", doc.MediaType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", doc.Size))
	_, _ = io.Copy(w, rc)
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

// handleTrash soft-deletes a batch of documents.
func (s *Server) handleTrash(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, `"ids" is required`, http.StatusBadRequest)
		return
	}

	if err := s.vault.DeleteDocuments(r.Context(), project, req.IDs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRestore returns a batch of trashed documents to active.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, `"ids" is required`, http.StatusBadRequest)
		return
	}

	if err := s.vault.RestoreDocuments(r.Context(), project, req.IDs); err != nil {
		writeVaultError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleAnnotate attaches a note or highlight to a document.
func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	var a papervault.Annotation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	a.Project = r.PathValue("project")
	a.DocumentID = r.PathValue("id")

	created, err := s.vault.Annotate(r.Context(), &a)
	if err != nil {
		writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// handleAnnotations lists a document's annotations.
func (s *Server) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	annotations, err := s.vault.Annotations(r.Context(), r.PathValue("project"), r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if annotations == nil {
		annotations = []*papervault.Annotation{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"annotations": annotations})
}

// handleSweep runs one collector sweep and returns the result.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result := s.collector.Sweep(r.Context())
	writeJSON(w, http.StatusOK, result)
}

// handleGCStatus reports the last completed sweep.
func (s *Server) handleGCStatus(w http.ResponseWriter, r *http.Request) {
	result := s.collector.Status()
	if result == nil {
		writeJSON(w, http.StatusOK, map[string]any{"last_sweep": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"last_sweep": result})
}

// writeVaultError maps domain errors onto HTTP status codes.
func writeVaultError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, papervault.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, papervault.ErrQuotaExceeded):
		status = http.StatusInsufficientStorage
	case errors.Is(err, papervault.ErrDuplicateDocument):
		status = http.StatusConflict
	case errors.Is(err, papervault.ErrDocumentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, papervault.ErrNotTrashed):
		status = http.StatusConflict
	case errors.Is(err, backend.ErrNotFound):
		// Blob lost from the durable store; the record survives so the
		// caller can re-upload the same content.
		status = http.StatusGone
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
