package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/haasonsaas/toolrun/internal/tools"
	"github.com/haasonsaas/toolrun/internal/tools/dashboard"
)

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]string)
	for name, inst := range s.registry.List() {
		out[name] = inst.Kind()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	code, err := s.registry.Source(r.Context(), name)
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "code": code})
}

func (s *Server) handleCreateTool(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r)
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	name, err := p.Required("name")
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	if err := s.registry.Create(r.Context(), name, p.String("code")); err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	s.logger.InfoContext(r.Context(), "tool created", "tool", name)
	writeJSON(w, http.StatusCreated, map[string]string{"message": fmt.Sprintf("Tool %s created successfully", name)})
}

func (s *Server) handleUpdateTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	p, err := readParams(w, r)
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	if err := s.registry.Update(r.Context(), name, p.String("code")); err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	s.logger.InfoContext(r.Context(), "tool updated", "tool", name)
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Tool %s updated successfully", name)})
}

func (s *Server) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.registry.Delete(r.Context(), name); err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	s.logger.InfoContext(r.Context(), "tool deleted", "tool", name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := s.registry.SetEnabled(r.Context(), name, enabled); err != nil {
			writeFailure(w, r, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Tool %s %s", name, state)})
	}
}

// handleRefreshAPICall invokes a tool directly, outside any assistant run.
func (s *Server) handleRefreshAPICall(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r)
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	name, err := p.Required("tool_name")
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	args, err := p.JSON("args")
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	s.invoke(w, r, name, args)
}

func (s *Server) handleGenerateDashboard(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r)
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	query, err := p.Required("query")
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	args, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	s.invoke(w, r, dashboard.ToolName, args)
}

// invoke runs a tool through the registry. Tool failures are ordinary
// {"error": ...} payloads and are returned with 200 like any other output.
func (s *Server) invoke(w http.ResponseWriter, r *http.Request, name string, args []byte) {
	res := s.registry.Execute(r.Context(), name, args)
	if errors.Is(res.Err, tools.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Tool not found")
		return
	}
	if res.Failed() {
		s.logger.WarnContext(r.Context(), "direct tool call failed", "tool", name, "error", res.Err)
	}
	writeRawJSON(w, http.StatusOK, res.Output)
}

func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	payload, err := s.responses.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	writeRawJSON(w, http.StatusOK, payload)
}
