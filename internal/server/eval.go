package server

import (
	"encoding/json"
	"net/http"

	"github.com/docqa-ai/docqa-go/internal/eval"
)

// decodeEval parses the shared eval request body.
func decodeEval(r *http.Request) (*evalRequest, error) {
	var body evalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}
	return &body, nil
}

// toEvalCases converts the HTTP case representation to eval.Case.
func toEvalCases(in []evalCase) []eval.Case {
	out := make([]eval.Case, len(in))
	for i, c := range in {
		out[i] = eval.Case{
			Question:         c.Question,
			ExpectedKeywords: c.ExpectedKeywords,
			GroundTruth:      c.GroundTruth,
		}
	}
	return out
}

// handleEval handles POST /api/eval: run the full evaluation harness over
// the submitted cases.
func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "qa engine not initialized")
		return
	}

	body, err := decodeEval(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Cases) == 0 {
		writeError(w, http.StatusBadRequest, "cases are required")
		return
	}

	report, err := eval.Run(r.Context(), s.deps.Engine, toEvalCases(body.Cases))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleEvalRetrieval handles POST /api/eval/retrieval: probe retrieval
// quality without running generation.
func (s *Server) handleEvalRetrieval(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rag == nil {
		writeError(w, http.StatusServiceUnavailable, "retrieval service not initialized")
		return
	}

	body, err := decodeEval(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	questions := body.Questions
	if len(questions) == 0 {
		// Accept full cases too; only the questions are used.
		for _, c := range body.Cases {
			questions = append(questions, c.Question)
		}
	}
	if len(questions) == 0 {
		writeError(w, http.StatusBadRequest, "questions are required")
		return
	}

	report, err := eval.RetrievalQuality(r.Context(), s.deps.Rag, questions, body.TopK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleEvalBaseline handles POST /api/eval/baseline: answer each case with
// and without retrieval and compare keyword coverage.
func (s *Server) handleEvalBaseline(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil || s.deps.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, "qa engine not initialized")
		return
	}

	body, err := decodeEval(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Cases) == 0 {
		writeError(w, http.StatusBadRequest, "cases are required")
		return
	}

	comparisons, err := eval.CompareBaseline(r.Context(), s.deps.Engine, s.deps.Generator, toEvalCases(body.Cases))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comparisons": comparisons})
}
