package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/banux/nxt-media/internal/formdata"
	"github.com/banux/nxt-media/internal/logging"
	"github.com/banux/nxt-media/internal/media"
	"github.com/banux/nxt-media/internal/metrics"
	"github.com/banux/nxt-media/internal/routes"
	"github.com/banux/nxt-media/internal/uploads"
)

// result is the {success, message} envelope used by mutating endpoints.
type result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
}

// mediaJSON is one entry of GET /api/media.
type mediaJSON struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

// routeJSON is the wire form of a route. Requests may use the older
// targetPath/displayName spellings.
type routeJSON struct {
	Route       string `json:"route"`
	MediaPath   string `json:"mediaPath"`
	MediaName   string `json:"mediaName"`
	TargetPath  string `json:"targetPath,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsImage     bool   `json:"isImage"`
	IsVideo     bool   `json:"isVideo"`
}

func routeToJSON(r media.Route) routeJSON {
	img, vid := r.Kind.Flags()
	return routeJSON{
		Route:     r.Name,
		MediaPath: r.TargetPath,
		MediaName: r.DisplayName,
		IsImage:   img,
		IsVideo:   vid,
	}
}

// toRoute validates a request body and converts it to a media.Route.
func (rj routeJSON) toRoute() (media.Route, error) {
	target := rj.MediaPath
	if target == "" {
		target = rj.TargetPath
	}
	name := rj.MediaName
	if name == "" {
		name = rj.DisplayName
	}
	switch {
	case routes.Normalize(strings.TrimSpace(rj.Route)) == "":
		return media.Route{}, errors.New("missing route")
	case target == "":
		return media.Route{}, errors.New("missing mediaPath")
	}
	if name == "" {
		name = filepath.Base(target)
	}
	return media.Route{
		Name:        strings.TrimSpace(rj.Route),
		TargetPath:  target,
		DisplayName: name,
		Kind:        media.KindFromFlags(rj.IsImage, rj.IsVideo),
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeResult(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, result{Success: status < 400, Message: msg})
}

// writeError maps err onto a status code. Client errors are logged at debug,
// everything else at error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, routes.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, routes.ErrExists), errors.Is(err, routes.ErrInvalidName),
		errors.Is(err, uploads.ErrInvalidName), formdata.IsClientError(err):
		status = http.StatusBadRequest
	case errors.As(err, &maxErr):
		status = http.StatusRequestEntityTooLarge
	}

	log := logging.WithContext(r.Context())
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeResult(w, status, err.Error())
}

func noCache(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// handleIndex renders the listing page. Media entries are fetched by the
// page itself from /api/media so rendering never waits on the library.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	noCache(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		Routes []media.Route
	}{Routes: s.routes.List()}
	if err := s.index.Execute(w, data); err != nil {
		logging.WithContext(r.Context()).Error("render index", zap.Error(err))
	}
}

// handleAPIMedia serves the discovered media listing. If the listing takes
// longer than MediaListTimeout an empty array is returned.
func (s *Server) handleAPIMedia(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.MediaListTimeout)
	defer cancel()

	done := make(chan []media.File, 1)
	go func() {
		done <- s.cache.List(ctx, force)
	}()

	var files []media.File
	select {
	case files = <-done:
	case <-ctx.Done():
		logging.WithContext(r.Context()).Warn("media listing timed out",
			zap.Duration("timeout", s.opts.MediaListTimeout))
	}

	out := make([]mediaJSON, 0, len(files))
	for _, f := range files {
		out = append(out, mediaJSON{Name: f.DisplayName, Path: f.VirtualPath, Type: f.Kind.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIListRoutes(w http.ResponseWriter, r *http.Request) {
	noCache(w)
	list := s.routes.List()
	out := make([]routeJSON, 0, len(list))
	for _, rt := range list {
		out = append(out, routeToJSON(rt))
	}
	writeJSON(w, http.StatusOK, out)
}

// decodeRoute reads and validates a route request body. It writes the 400
// response itself and returns false on failure.
func decodeRoute(w http.ResponseWriter, r *http.Request) (media.Route, bool) {
	var body routeJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeResult(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return media.Route{}, false
	}
	rt, err := body.toRoute()
	if err != nil {
		writeResult(w, http.StatusBadRequest, err.Error())
		return media.Route{}, false
	}
	return rt, true
}

func (s *Server) handleAPIAddRoute(w http.ResponseWriter, r *http.Request) {
	rt, ok := decodeRoute(w, r)
	if !ok {
		return
	}
	if err := s.routes.Add(rt); err != nil {
		writeError(w, r, err)
		return
	}
	logging.WithContext(r.Context()).Info("route added",
		zap.String("route", routes.Normalize(rt.Name)), zap.String("target", rt.TargetPath))
	writeResult(w, http.StatusOK, "Route added successfully")
}

func (s *Server) handleAPIUpdateRoute(w http.ResponseWriter, r *http.Request) {
	rt, ok := decodeRoute(w, r)
	if !ok {
		return
	}
	if err := s.routes.Update(rt); err != nil {
		writeError(w, r, err)
		return
	}
	logging.WithContext(r.Context()).Info("route updated",
		zap.String("route", routes.Normalize(rt.Name)), zap.String("target", rt.TargetPath))
	writeResult(w, http.StatusOK, "Route updated successfully")
}

func (s *Server) handleAPIDeleteRoute(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("route")
	if routes.Normalize(name) == "" {
		writeResult(w, http.StatusBadRequest, "missing route parameter")
		return
	}
	if err := s.routes.Delete(name); err != nil {
		writeError(w, r, err)
		return
	}
	logging.WithContext(r.Context()).Info("route deleted", zap.String("route", routes.Normalize(name)))
	writeResult(w, http.StatusOK, "Route deleted successfully")
}

// handleHealth serves a simple health-check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleAPIRefresh re-indexes the library when possible, reloads the route
// table from disk and drops the media cache. Scan failures are logged; the
// reload and invalidation happen regardless.
func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	if s.opts.Rescanner != nil {
		if err := s.opts.Rescanner.Scan(r.Context()); err != nil {
			logging.WithContext(r.Context()).Warn("library rescan failed", zap.Error(err))
		}
	}
	s.routes.Invalidate()
	s.cache.Invalidate()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleUpload stores the first file part of a multipart/form-data body in
// the uploads directory and invalidates the media cache.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.RecordUpload(0, false)
		writeError(w, r, err)
		return
	}

	part, err := formdata.Parse(r.Header.Get("Content-Type"), body)
	if err != nil {
		metrics.RecordUpload(0, false)
		writeError(w, r, err)
		return
	}

	stored, err := s.uploads.Save(part.Filename, part.Data)
	if err != nil {
		metrics.RecordUpload(0, false)
		writeError(w, r, err)
		return
	}
	s.cache.Invalidate()
	metrics.RecordUpload(int64(len(part.Data)), true)

	name := filepath.Base(stored)
	logging.WithContext(r.Context()).Info("file uploaded",
		zap.String("file", name), zap.Int("bytes", len(part.Data)))
	writeJSON(w, http.StatusOK, result{
		Success: true,
		Message: "File uploaded successfully",
		File:    name,
	})
}

// handleDispatch resolves every path not claimed by a fixed endpoint:
// a custom route first, then a /media/ alias, then any nested path as a
// best-effort media lookup.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeResult(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeResult(w, http.StatusNotFound, "not found")
		return
	}

	path := r.URL.Path
	if rt, ok := s.routes.Get(path); ok {
		s.serveRoute(w, r, rt)
		return
	}

	rest := strings.TrimPrefix(path, "/")
	if strings.HasPrefix(path, "/media/") || strings.Contains(rest, "/") {
		if f, ok := s.cache.Lookup(r.Context(), path); ok {
			serveFile(w, r, f.Path, media.ContentType(f.Path, f.Kind))
			return
		}
	}

	writeResult(w, http.StatusNotFound, "not found")
}

// wantsRaw reports whether the client asked for the file bytes rather than
// the viewer page.
func wantsRaw(r *http.Request) bool {
	switch r.URL.Query().Get("file") {
	case "1", "true":
		return true
	}
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "text/html") {
		return false
	}
	return strings.Contains(accept, "video/") || strings.Contains(accept, "image/")
}

func (s *Server) serveRoute(w http.ResponseWriter, r *http.Request, rt media.Route) {
	if wantsRaw(r) {
		serveFile(w, r, rt.TargetPath, media.ContentType(rt.TargetPath, rt.Kind))
		return
	}

	kind := rt.Kind
	if kind == media.Unknown {
		_, kind = media.Classify(rt.TargetPath)
	}
	data := struct {
		Title string
		Kind  string
		Src   string
	}{
		Title: rt.DisplayName,
		Kind:  kind.String(),
		Src:   (&url.URL{Path: "/" + rt.Name, RawQuery: "file=1"}).String(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.viewer.Execute(w, data); err != nil {
		logging.WithContext(r.Context()).Error("render viewer", zap.Error(err))
	}
}

// serveFile streams the file at path with the given content type.
func serveFile(w http.ResponseWriter, r *http.Request, path, contentType string) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		writeResult(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if info.IsDir() {
		writeResult(w, http.StatusNotFound, "file not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}
