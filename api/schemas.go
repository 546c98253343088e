package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/c360/schemagate/config"
)

const schemaSuffix = ".json"

// validateSchemaFilename keeps schema file access inside the schema
// directory: plain .json names only, no traversal, no absolute paths.
func validateSchemaFilename(name string) error {
	switch {
	case name == "" || name == schemaSuffix:
		return fmt.Errorf("filename is required")
	case !strings.HasSuffix(name, schemaSuffix):
		return fmt.Errorf("filename must end in %s", schemaSuffix)
	case strings.Contains(name, ".."):
		return fmt.Errorf("filename must not contain '..'")
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("filename must not contain path separators")
	case filepath.IsAbs(name):
		return fmt.Errorf("filename must not be absolute")
	}
	return nil
}

func (s *Server) schemaDir() string {
	return s.store.Get().SchemaDir
}

// handleSchemas serves the collection: list the directory, create a file.
func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listSchemas(w)
	case http.MethodPost:
		s.createSchema(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	}
}

// handleSchemaFile serves one file under /api/schemas/: fetch, overwrite,
// delete.
func (s *Server) handleSchemaFile(w http.ResponseWriter, r *http.Request) {
	filename := strings.TrimPrefix(r.URL.Path, "/api/schemas/")
	if err := validateSchemaFilename(filename); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getSchema(w, filename)
	case http.MethodPut:
		s.updateSchema(w, r, filename)
	case http.MethodDelete:
		s.deleteSchema(w, filename)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	}
}

func (s *Server) listSchemas(w http.ResponseWriter) {
	entries, err := os.ReadDir(s.schemaDir())
	if err != nil && !os.IsNotExist(err) {
		s.logger.Error("listing schema directory failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list schemas")
		return
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), schemaSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	noStore(w)
	writeJSON(w, http.StatusOK, map[string][]string{"schemas": names})
}

type createSchemaRequest struct {
	Filename string          `json:"filename"`
	Content  json.RawMessage `json:"content"`
}

func (s *Server) createSchema(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req createSchemaRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "expecting JSON with 'filename' and 'content' keys")
		return
	}
	if err := validateSchemaFilename(req.Filename); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Content) == 0 || bytes.Equal(req.Content, []byte("null")) {
		writeError(w, http.StatusBadRequest, "schema content is required")
		return
	}

	dir := s.schemaDir()
	path := filepath.Join(dir, req.Filename)
	if _, err := os.Stat(path); err == nil {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("schema file %q already exists", req.Filename))
		return
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Error("creating schema directory failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to write schema file")
		return
	}
	if err := writeSchemaFile(path, req.Content); err != nil {
		s.logger.Error("writing schema file failed", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to write schema file")
		return
	}

	s.applyChange(w, http.StatusCreated,
		fmt.Sprintf("Schema file %q created successfully.", req.Filename))
}

func (s *Server) getSchema(w http.ResponseWriter, filename string) {
	data, err := os.ReadFile(filepath.Join(s.schemaDir(), filename))
	if os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, "schema file not found")
		return
	}
	if err != nil {
		s.logger.Error("reading schema file failed", "filename", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read schema file")
		return
	}

	noStore(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) updateSchema(w http.ResponseWriter, r *http.Request, filename string) {
	path := filepath.Join(s.schemaDir(), filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, "schema file not found")
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "schema content is not valid JSON")
		return
	}
	if err := writeSchemaFile(path, body); err != nil {
		s.logger.Error("writing schema file failed", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to write schema file")
		return
	}

	s.applyChange(w, http.StatusOK,
		fmt.Sprintf("Schema file %q updated successfully.", filename))
}

func (s *Server) deleteSchema(w http.ResponseWriter, filename string) {
	path := filepath.Join(s.schemaDir(), filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, "schema file not found")
		return
	}

	if err := os.Remove(path); err != nil {
		s.logger.Error("deleting schema file failed", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete schema file")
		return
	}

	// Mappings referencing the removed schema fall back to pass-through
	// (sensors) or fail-closed (actuators) on the restart below.
	if _, err := s.store.Update(func(c *config.Config) error {
		c.ClearSchemaReferences(c.SchemaPath(filename))
		return nil
	}); err != nil {
		s.writeUpdateError(w, err)
		return
	}

	s.applyChange(w, http.StatusOK,
		fmt.Sprintf("Schema file %q deleted and mappings updated.", filename))
}

// writeSchemaFile persists a schema document, reformatted with stable
// indentation. Content that is not valid JSON is rejected.
func writeSchemaFile(path string, content []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, content, "", "  "); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
