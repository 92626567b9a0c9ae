package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"esic/internal/model"
	"esic/internal/schema"
	"esic/internal/storage"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	putURLTTL = 15 * time.Minute
	// Download links end up in responses the requester may open much later.
	getURLTTL = 365 * 24 * time.Hour
)

type signedFile struct {
	Name   string `json:"name"`
	Key    string `json:"key"`
	MIME   string `json:"mime"`
	Size   int64  `json:"size"`
	PutURL string `json:"putUrl"`
	GetURL string `json:"getUrl"`
}

func (d Dependencies) signAnexos(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Files []storage.FileSpec `json:"files"`
	}
	if err := d.decodeBody(r, schema.AnexosSign, &body); err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	if err := d.Policy.ValidateBatch(body.Files); err != nil {
		WriteError(w, http.StatusBadRequest, "policy_violation", err.Error(), d.Log)
		return
	}

	ctx := r.Context()
	out := make([]signedFile, 0, len(body.Files))
	for _, f := range body.Files {
		key := storage.ObjectKey(f.Name)
		putURL, err := d.Storage.PresignPut(ctx, key, f.MIME, putURLTTL)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "url_generation_failed", "Failed to generate presigned URL", d.Log)
			return
		}
		getURL, err := d.Storage.PresignGet(ctx, key, getURLTTL)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "url_generation_failed", "Failed to generate presigned URL", d.Log)
			return
		}
		out = append(out, signedFile{Name: f.Name, Key: key, MIME: f.MIME, Size: f.Size, PutURL: putURL, GetURL: getURL})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"files": out})
}

func (d Dependencies) uploadAnexo(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := d.Storage.Verify(key, storage.OpPut, r.URL.Query().Get("token")); err != nil {
		WriteError(w, http.StatusForbidden, "invalid_signature", err.Error(), d.Log)
		return
	}

	reader := io.Reader(r.Body)
	if d.Policy != nil && d.Policy.MaxFileMB > 0 {
		reader = http.MaxBytesReader(w, r.Body, int64(d.Policy.MaxFileMB*1024*1024))
	}

	size, sum, err := d.Storage.Put(r.Context(), key, reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = d.Storage.Delete(r.Context(), key)
			WriteError(w, http.StatusRequestEntityTooLarge, "file_too_large", "File exceeds the configured limit", d.Log)
			return
		}
		d.Log.Error("Failed to store anexo", zap.String("key", key), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "upload_failed", "Failed to store file", d.Log)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key":    key,
		"size":   size,
		"sha256": sum,
	})
}

func (d Dependencies) downloadAnexo(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := d.Storage.Verify(key, storage.OpGet, r.URL.Query().Get("token")); err != nil {
		WriteError(w, http.StatusForbidden, "invalid_signature", err.Error(), d.Log)
		return
	}

	rc, err := d.Storage.Get(r.Context(), key)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "File not found", d.Log)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": key}))
	if _, err := io.Copy(w, rc); err != nil {
		d.Log.Warn("Anexo download interrupted", zap.String("key", key), zap.Error(err))
	}
}

func validateAnexos(anexos []model.Anexo, policy *storage.FilePolicy) error {
	if len(anexos) == 0 {
		return nil
	}
	return storage.ValidateAnexos(anexos, policy)
}
