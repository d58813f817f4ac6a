// Package api serves a terrain collection over HTTP as JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cfoust/strata/pkg/archive"
	"github.com/cfoust/strata/pkg/exchange"
	"github.com/cfoust/strata/pkg/idmap"
	"github.com/cfoust/strata/pkg/terrain"
	"github.com/cfoust/strata/pkg/utils"

	"github.com/mileusna/useragent"
	"github.com/repeale/fp-go/option"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const MAX_UPLOAD = 16 << 20

var (
	STATUS_PATH_REGEX         = regexp.MustCompile(`^/api/status$`)
	TERRAINS_PATH_REGEX       = regexp.MustCompile(`^/api/terrains$`)
	EXPORT_PATH_REGEX         = regexp.MustCompile(`^/api/terrains/export$`)
	IMPORT_PATH_REGEX         = regexp.MustCompile(`^/api/terrains/import$`)
	REPLACE_PATH_REGEX        = regexp.MustCompile(`^/api/terrains/replace$`)
	TERRAIN_PATH_REGEX        = regexp.MustCompile(`^/api/terrains/(\d+)$`)
	TERRAIN_BAND_PATH_REGEX   = regexp.MustCompile(`^/api/terrains/(\d+)/band$`)
	TERRAIN_EXPORT_PATH_REGEX = regexp.MustCompile(`^/api/terrains/(\d+)/export$`)
	TERRAIN_IMPORT_PATH_REGEX = regexp.MustCompile(`^/api/terrains/(\d+)/import$`)
	ARCHIVE_PATH_REGEX        = regexp.MustCompile(`^/api/archive$`)
	ARCHIVE_ENTRY_PATH_REGEX  = regexp.MustCompile(`^/api/archive/([\w.-]+)$`)
)

var errBadRequest = fmt.Errorf("bad request")

type Server struct {
	terrains *terrain.Collection
	archive  archive.Store
	moduleID string
	session  utils.Session
}

func New(ctx context.Context, terrains *terrain.Collection, documents archive.Store, moduleID string) *Server {
	return &Server{
		terrains: terrains,
		archive:  documents,
		moduleID: moduleID,
		session:  utils.NewSession(ctx),
	}
}

func (s *Server) Logger() zerolog.Logger {
	return log.With().Str("service", "api").Logger()
}

func (s *Server) Shutdown() {
	s.session.Cancel()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// LogRequests logs every request along with the client that made it.
func LogRequests(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(writer, r)

		agent := useragent.Parse(r.UserAgent())
		event := log.Info()
		if writer.status >= 500 {
			event = log.Error()
		}

		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("took", time.Since(start)).
			Str("client", agent.Name).
			Str("os", agent.OS).
			Bool("bot", agent.Bot).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, terrain.ErrUnknownTerrain), errors.Is(err, archive.Missing):
		return http.StatusNotFound
	case errors.Is(err, idmap.ErrOccupied):
		return http.StatusConflict
	case errors.Is(err, exchange.ErrUnknownFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, terrain.ErrMissingUpload),
		errors.Is(err, terrain.ErrInvalidAttribute),
		errors.Is(err, idmap.ErrInvalidID),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger := s.Logger()
		logger.Error().Err(err).Msg("request failed")
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %w", errBadRequest, err)
}

func parseID(value string) (idmap.ID, error) {
	number, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", idmap.ErrInvalidID, value)
	}

	id := idmap.ID(number)
	if !id.Valid() {
		return 0, fmt.Errorf("%w: %d", idmap.ErrInvalidID, number)
	}
	return id, nil
}

// codecFor reads the format query parameter, which is a file extension such
// as "yaml" or "cbor.gz".
func codecFor(r *http.Request) (exchange.Codec, error) {
	format := r.URL.Query().Get("format")
	if format == "" {
		return exchange.JSON, nil
	}
	return exchange.ForPath("document." + format)
}

func readDocument(w http.ResponseWriter, r *http.Request) (*terrain.Document, error) {
	codec, err := codecFor(r)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MAX_UPLOAD))
	if err != nil {
		return nil, badRequest(err)
	}

	document, err := codec.Decode(data)
	if errors.Is(err, terrain.ErrMissingUpload) {
		return nil, err
	}
	if err != nil {
		return nil, badRequest(err)
	}
	return document, nil
}

func (s *Server) writeDocument(w http.ResponseWriter, r *http.Request, filename string, document *terrain.Document) {
	codec, err := codecFor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	data, err := codec.Encode(document)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if codec != exchange.JSON {
		filename = fmt.Sprintf("%s%s", filename[:len(filename)-len(".json")], codec.Extension())
	}

	header := w.Header()
	header.Set("Content-Type", codec.ContentType())
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

type Status struct {
	Uptime   string     `json:"uptime"`
	Terrains int        `json:"terrains"`
	IDs      []idmap.ID `json:"ids"`
}

type TerrainInfo struct {
	ID idmap.ID `json:"id"`
	terrain.Config
}

// CreateRequest is the body of POST /api/terrains. ID is a raw JSON number
// so that fractional identifiers can be rejected.
type CreateRequest struct {
	ID       *float64 `json:"id"`
	Override bool     `json:"override"`
	terrain.Config
}

func (s *Server) info(ctx context.Context, id idmap.ID) (TerrainInfo, error) {
	entry := s.terrains.Get(id)
	if opt.IsNone(entry) {
		return TerrainInfo{}, fmt.Errorf("%w: %d", terrain.ErrUnknownTerrain, id)
	}

	config, err := entry.Value.Config(ctx)
	if err != nil {
		return TerrainInfo{}, err
	}

	return TerrainInfo{ID: id, Config: config}, nil
}

func (s *Server) list(ctx context.Context) ([]TerrainInfo, error) {
	entries := s.terrains.All()
	infos := make([]TerrainInfo, 0, len(entries))
	for _, entry := range entries {
		config, err := entry.Terrain.Config(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, TerrainInfo{ID: entry.ID, Config: config})
	}
	return infos, nil
}

func (s *Server) create(ctx context.Context, r *http.Request) (idmap.ID, error) {
	config, err := s.terrains.NewConfig(ctx)
	if err != nil {
		return 0, err
	}

	request := CreateRequest{Config: config}
	err = json.NewDecoder(io.LimitReader(r.Body, MAX_UPLOAD)).Decode(&request)
	if err == io.EOF {
		return 0, terrain.ErrMissingUpload
	}
	if err != nil {
		return 0, badRequest(err)
	}

	if request.ID == nil {
		id, _, err := s.terrains.Create(ctx, request.Config)
		return id, err
	}

	id, err := idmap.ParseID(*request.ID)
	if err != nil {
		return 0, err
	}

	_, err = s.terrains.CreateWithID(ctx, id, request.Config, request.Override)
	return id, err
}

func (s *Server) update(ctx context.Context, r *http.Request, id idmap.ID) error {
	values := make(map[string]any)
	err := json.NewDecoder(io.LimitReader(r.Body, MAX_UPLOAD)).Decode(&values)
	if err == io.EOF {
		return terrain.ErrMissingUpload
	}
	if err != nil {
		return badRequest(err)
	}

	return s.terrains.Update(ctx, id, values)
}

func (s *Server) band(ctx context.Context, r *http.Request, id idmap.ID) (terrain.Band, error) {
	anchor := 0.0
	if value := r.URL.Query().Get("anchor"); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return terrain.Band{}, badRequest(err)
		}
		anchor = parsed
	}

	entry := s.terrains.Get(id)
	if opt.IsNone(entry) {
		return terrain.Band{}, fmt.Errorf("%w: %d", terrain.ErrUnknownTerrain, id)
	}

	return entry.Value.ElevationMinMax(ctx, anchor)
}

func (s *Server) serveTerrains(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		infos, err := s.list(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, infos)
	case http.MethodPost:
		id, err := s.create(ctx, r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]idmap.ID{"id": id})
	case http.MethodDelete:
		err := s.terrains.Reset(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveTerrain(w http.ResponseWriter, r *http.Request, id idmap.ID) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		info, err := s.info(ctx, id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	case http.MethodPatch:
		err := s.update(ctx, r, id)
		if err != nil {
			s.writeError(w, err)
			return
		}

		info, err := s.info(ctx, id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	case http.MethodDelete:
		err := s.terrains.Delete(ctx, id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveImport(w http.ResponseWriter, r *http.Request, replace bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	document, err := readDocument(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var ids []idmap.ID
	if replace {
		ids, err = s.terrains.ReplaceAll(r.Context(), document)
	} else {
		ids, err = s.terrains.ImportAdditive(r.Context(), document)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]idmap.ID{"ids": ids})
}

func (s *Server) serveArchive(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		data, err := s.archive.Get(ctx, name)
		if err != nil {
			s.writeError(w, err)
			return
		}

		codec, err := exchange.ForPath(name)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", codec.ContentType())
		w.Write(data)
	case http.MethodPut:
		document, err := s.terrains.ExportAll(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}

		err = archive.Save(ctx, s.archive, name, document)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"name": name})
	case http.MethodPost:
		document, err := archive.Load(ctx, s.archive, name)
		if err != nil {
			s.writeError(w, err)
			return
		}

		var ids []idmap.ID
		if r.URL.Query().Get("mode") == "replace" {
			ids, err = s.terrains.ReplaceAll(ctx, document)
		} else {
			ids, err = s.terrains.ImportAdditive(ctx, document)
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]idmap.ID{"ids": ids})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := r.URL.Path

	if STATUS_PATH_REGEX.MatchString(path) {
		writeJSON(w, http.StatusOK, Status{
			Uptime:   s.session.Uptime().String(),
			Terrains: s.terrains.Len(),
			IDs:      s.terrains.IDs(),
		})
		return
	}

	if TERRAINS_PATH_REGEX.MatchString(path) {
		s.serveTerrains(w, r)
		return
	}

	if EXPORT_PATH_REGEX.MatchString(path) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		document, err := s.terrains.ExportAll(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeDocument(w, r, exchange.Filename(s.moduleID), document)
		return
	}

	if IMPORT_PATH_REGEX.MatchString(path) {
		s.serveImport(w, r, false)
		return
	}

	if REPLACE_PATH_REGEX.MatchString(path) {
		s.serveImport(w, r, true)
		return
	}

	if matches := TERRAIN_PATH_REGEX.FindStringSubmatch(path); len(matches) == 2 {
		id, err := parseID(matches[1])
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.serveTerrain(w, r, id)
		return
	}

	if matches := TERRAIN_BAND_PATH_REGEX.FindStringSubmatch(path); len(matches) == 2 {
		id, err := parseID(matches[1])
		if err != nil {
			s.writeError(w, err)
			return
		}

		band, err := s.band(ctx, r, id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, band)
		return
	}

	if matches := TERRAIN_EXPORT_PATH_REGEX.FindStringSubmatch(path); len(matches) == 2 {
		id, err := parseID(matches[1])
		if err != nil {
			s.writeError(w, err)
			return
		}

		document, err := s.terrains.ExportOne(ctx, id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeDocument(w, r, exchange.TerrainFilename(s.moduleID, document.Terrains[0].Name), document)
		return
	}

	if matches := TERRAIN_IMPORT_PATH_REGEX.FindStringSubmatch(path); len(matches) == 2 {
		id, err := parseID(matches[1])
		if err != nil {
			s.writeError(w, err)
			return
		}

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		document, err := readDocument(w, r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		err = s.terrains.ImportOne(ctx, id, document)
		if err != nil {
			s.writeError(w, err)
			return
		}

		info, err := s.info(ctx, id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
		return
	}

	if ARCHIVE_PATH_REGEX.MatchString(path) {
		names, err := s.archive.List(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, names)
		return
	}

	if matches := ARCHIVE_ENTRY_PATH_REGEX.FindStringSubmatch(path); len(matches) == 2 {
		s.serveArchive(w, r, matches[1])
		return
	}

	w.WriteHeader(http.StatusNotFound)
}
