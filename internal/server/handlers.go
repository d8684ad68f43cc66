package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/foilbox/foilbox/internal/archive"
	"github.com/foilbox/foilbox/internal/importer"
	"github.com/foilbox/foilbox/internal/library"
	"github.com/foilbox/foilbox/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleIndex serves the library index.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := library.BuildIndex(s.store)
	if err != nil {
		s.logger.Error("failed to build index", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build index")
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

// handleGetGame streams the file behind a download id.
func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	downloadID := r.PathValue("download_id")

	m, err := s.store.GetMetadataByDownloadID(downloadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown download id")
			return
		}
		s.logger.Error("failed to look up download id", "download_id", downloadID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	http.ServeFile(w, r, m.Path)
}

// RescanRequestBody is the POST /api/rescan request body.
type RescanRequestBody struct {
	Force bool `json:"force"`
}

// handleRescan accepts a rescan trigger. The rescan itself runs detached;
// the response only reports acceptance.
func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	var req RescanRequestBody
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if s.scanner.Scanning() {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "already running"})
		return
	}

	go func() {
		if _, err := s.scanner.FullRescan(context.Background(), req.Force); err != nil && !errors.Is(err, library.ErrScanInFlight) {
			s.logger.Error("rescan failed", "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// ImportRequestBody is the POST /api/import request body. Either id (with
// an optional importer name) or a local source path must be given.
type ImportRequestBody struct {
	Importer string            `json:"importer,omitempty"`
	ID       string            `json:"id,omitempty"`
	Path     string            `json:"path,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// handleImport accepts an import trigger and runs the resolution, fetch and
// relocation pipeline detached. Acceptance only; results become visible via
// the download queue and the index.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var src *importer.Source
	switch {
	case req.ID != "":
		imp, err := s.registry.ResolveForID(req.Importer, req.ID)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, importer.ErrImporterNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err.Error())
			return
		}
		resolved, err := imp.Import(r.Context(), importer.Request{ID: req.ID, Headers: req.Headers})
		if err != nil {
			if errors.Is(err, importer.ErrGameNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		src = resolved

	case req.Path != "":
		src = localSource(req.Path)
		if src == nil {
			writeError(w, http.StatusBadRequest, "source path does not exist")
			return
		}

	default:
		writeError(w, http.StatusBadRequest, "either id or path required")
		return
	}

	go s.runImport(src)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// runImport materializes a source and moves the files into the library.
// The temp dir, if any, is released after relocation regardless of
// per-file outcomes.
func (s *Server) runImport(src *importer.Source) {
	m, err := s.processor.Process(context.Background(), src)
	if err != nil {
		s.logger.Error("import failed", "error", err)
		return
	}
	defer m.Release()

	if err := importer.ImportFiles(m, s.scanner.Root(), s.logger); err != nil {
		s.logger.Error("import finished with errors", "error", err)
	}

	// Newly imported files show up in the index on the next scan; kick
	// one off opportunistically.
	if _, err := s.scanner.FullRescan(context.Background(), false); err != nil && !errors.Is(err, library.ErrScanInFlight) {
		s.logger.Error("post-import rescan failed", "error", err)
	}
}

// localSource classifies a local path into a source variant.
func localSource(path string) *importer.Source {
	fi, err := os.Stat(path)
	if err != nil {
		return nil
	}
	switch {
	case fi.IsDir():
		return &importer.Source{Kind: importer.KindLocalDir, Path: path}
	case archive.IsArchive(path):
		return &importer.Source{Kind: importer.KindLocalArchive, Path: path}
	default:
		return &importer.Source{Kind: importer.KindLocal, Path: path}
	}
}

// importerInfo describes a registered importer.
type importerInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	SupportsID  bool   `json:"supports_id"`
}

func (s *Server) handleImporters(w http.ResponseWriter, r *http.Request) {
	infos := make([]importerInfo, 0)
	for _, name := range s.registry.Names() {
		imp, _ := s.registry.Get(name)
		infos = append(infos, importerInfo{
			Name:        imp.Name(),
			DisplayName: imp.DisplayName(),
			Description: imp.Description(),
			SupportsID:  imp.SupportsID(),
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.List())
}

func (s *Server) handleDownloadStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats())
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if h, ok := s.queue.Get(id); ok {
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "progress": h.Progress()})
		return
	}

	row, err := s.store.GetDownload(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "download not found")
			return
		}
		s.logger.Error("failed to load download row", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.queue.Cancel(id) {
		writeError(w, http.StatusNotFound, "download not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleCleanupDownloads(w http.ResponseWriter, r *http.Request) {
	removed := s.queue.Cleanup()
	pruned, err := s.store.PruneDownloads()
	if err != nil {
		s.logger.Error("failed to prune download rows", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed, "pruned": pruned})
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	raw, err := s.store.GetSettingRaw(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "setting not found")
			return
		}
		s.logger.Error("failed to load setting", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON value")
		return
	}

	if err := s.store.SetSetting(name, json.RawMessage(body)); err != nil {
		s.logger.Error("failed to store setting", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "store failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}
