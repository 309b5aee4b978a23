package httpadapter

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

const (
	maxUploadBytes   = 64 << 20
	multipartMemory  = 8 << 20
	uploadFormField  = "file"
	defaultNewStatus = "complete"
)

// uploadFile accepts a multipart upload. With source_file_id set the file is
// stored as a result of that source.
func (rt *Router) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart form is required")
		return
	}
	defer r.MultipartForm.RemoveAll()

	repoID := strings.TrimSpace(r.FormValue("repo_id"))
	if repoID == "" {
		writeError(w, http.StatusBadRequest, "repo_id is required")
		return
	}
	part, header, err := r.FormFile(uploadFormField)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("form field %q is required", uploadFormField))
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}
	file, err := rt.opts.Files.Upload(r.Context(), repoID, header.Filename, data, strings.TrimSpace(r.FormValue("source_file_id")))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

func (rt *Router) fileMetadata(w http.ResponseWriter, r *http.Request) {
	file, err := rt.opts.Files.Stat(r.Context(), chi.URLParam(r, "file_id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (rt *Router) downloadFile(w http.ResponseWriter, r *http.Request) {
	filename, data, err := rt.opts.Files.Download(r.Context(), chi.URLParam(r, "file_id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (rt *Router) deleteFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	deleted, err := rt.opts.Files.Delete(r.Context(), fileID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "file not found or already deleted")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file_id": fileID, "detail": "file deleted"})
}

func (rt *Router) updateFileStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	repoID := strings.TrimSpace(q.Get("repo_id"))
	if repoID == "" {
		writeError(w, http.StatusBadRequest, "repo_id is required")
		return
	}
	status := strings.TrimSpace(q.Get("new_status"))
	if status == "" {
		status = defaultNewStatus
	}
	isSource := true
	if raw := q.Get("source"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "source must be a boolean")
			return
		}
		isSource = parsed
	}

	fileID := chi.URLParam(r, "file_id")
	if err := rt.opts.Files.UpdateStatus(r.Context(), repoID, fileID, status, isSource); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file_id": fileID, "status": status})
}

func (rt *Router) resultFiles(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	files, err := rt.opts.Files.ListResults(r.Context(), fileID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if files == nil {
		files = []domain.StoredFile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"file_id": fileID, "results": files})
}
