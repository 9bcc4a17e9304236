package repository

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"ilview/internal/core/errors"
	"ilview/internal/shared/observability"
)

//go:embed openapi.yaml
var openapiDocument []byte

// LoadAPI parses and validates the embedded protocol description.
func LoadAPI() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiDocument)
	if err != nil {
		return nil, fmt.Errorf("load repository openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate repository openapi document: %w", err)
	}
	return doc, nil
}

// Server serves assemblies stored as
// <root>/<arch>/<runtime>/<name>/<version>__<token>/<name>.dll.
type Server struct {
	root    string
	compare VersionCompare
	router  routers.Router
	logger  *slog.Logger
}

func NewServer(root string, compare VersionCompare, logger *slog.Logger) (*Server, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "repository root"), errors.CtxPath, root)
	}
	if !info.IsDir() {
		return nil, errors.AddContext(errors.New(errors.CodeValidationError, "repository root is not a directory"), errors.CtxPath, root)
	}
	if compare == "" {
		compare = CompareTextual
	}
	if logger == nil {
		logger = slog.Default()
	}
	doc, err := LoadAPI()
	if err != nil {
		return nil, err
	}
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build repository router: %w", err)
	}
	return &Server{root: root, compare: compare, router: router, logger: logger}, nil
}

// Handler routes /verify and /assembly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /verify", s.validated(endpointVerify, s.handleVerify))
	mux.HandleFunc("GET /assembly", s.validated(endpointAssembly, s.handleAssembly))
	return mux
}

// Locate finds the file answering q. The exact version folder wins; without
// SpecificVersion a greater folder under the same name is accepted.
func (s *Server) Locate(q Query) (string, bool) {
	assemblyDir := filepath.Join(s.root, q.Architecture, q.Runtime, q.Name)
	if info, err := os.Stat(assemblyDir); err != nil || !info.IsDir() {
		return "", false
	}
	fileName := q.Name + ".dll"

	wanted := q.Version + "__" + q.Token
	direct := filepath.Join(assemblyDir, wanted, fileName)
	if isFile(direct) {
		return direct, true
	}
	if q.SpecificVersion {
		return "", false
	}

	entries, err := os.ReadDir(assemblyDir)
	if err != nil {
		s.logger.Warn("read repository folder failed", "path", assemblyDir, "error", err)
		return "", false
	}
	latest := ""
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if latest == "" || s.compare.Compare(e.Name(), latest) > 0 {
			latest = e.Name()
		}
	}
	if latest == "" || s.compare.Compare(latest, wanted) <= 0 {
		return "", false
	}
	candidate := filepath.Join(assemblyDir, latest, fileName)
	if !isFile(candidate) {
		return "", false
	}
	return candidate, true
}

func (s *Server) validated(endpoint string, next func(http.ResponseWriter, *http.Request, Query)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := s.router.FindRoute(r)
		if err != nil {
			s.reply(w, endpoint, http.StatusNotFound, err.Error())
			return
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
			Options:    &openapi3filter.Options{ExcludeRequestBody: true},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			s.logger.Debug("rejected repository request", "endpoint", endpoint, "query", r.URL.RawQuery, "error", err)
			s.reply(w, endpoint, http.StatusBadRequest, err.Error())
			return
		}
		next(w, r, ParseQuery(r.URL.Query()))
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, _ *http.Request, q Query) {
	if _, ok := s.Locate(q); ok {
		s.reply(w, endpointVerify, http.StatusOK, "true")
		return
	}
	s.reply(w, endpointVerify, http.StatusNotFound, "false")
}

func (s *Server) handleAssembly(w http.ResponseWriter, _ *http.Request, q Query) {
	path, ok := s.Locate(q)
	if !ok {
		s.reply(w, endpointAssembly, http.StatusNotFound, fmt.Sprintf("Assembly '%s' not found.", q.Name))
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("open repository assembly failed", "path", path, "error", err)
		s.reply(w, endpointAssembly, http.StatusInternalServerError, "cannot read assembly")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)
	observability.RepositoryServedTotal.WithLabelValues(endpointAssembly, statusClass(http.StatusOK)).Inc()
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn("send repository assembly failed", "path", path, "error", err)
	}
}

func (s *Server) reply(w http.ResponseWriter, endpoint string, status int, body string) {
	observability.RepositoryServedTotal.WithLabelValues(endpoint, statusClass(status)).Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
