package api

import (
	"net/http"

	"faultline/internal/workflow"
)

// workflowSummary describes one registered workflow.
type workflowSummary struct {
	Name  string          `json:"name"`
	Steps []workflow.Step `json:"steps"`
}

// listWorkflowsResponse is the JSON response for GET /v1/workflows.
type listWorkflowsResponse struct {
	Workflows []workflowSummary `json:"workflows"`
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	cat := s.harness.Catalogue()

	workflows := make([]workflowSummary, 0, cat.Len())
	for _, name := range cat.Names() {
		desc, ok := cat.ByName(name)
		if !ok {
			continue
		}
		workflows = append(workflows, workflowSummary{
			Name:  desc.Name,
			Steps: desc.Steps,
		})
	}

	s.writeJSON(w, http.StatusOK, listWorkflowsResponse{Workflows: workflows})
}
