// Package eval measures answer quality over a fixed set of test cases:
// keyword coverage of answers, retrieval hit rates, and a side-by-side
// comparison against ungrounded generation.
package eval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docqa-ai/docqa-go/internal/llm"
	"github.com/docqa-ai/docqa-go/internal/qa"
	"github.com/docqa-ai/docqa-go/internal/rag"
)

// Case is one evaluation question with its expected answer signals.
type Case struct {
	// Question is fed to the QA engine verbatim.
	Question string `json:"question"`
	// ExpectedKeywords are terms a correct answer should mention.
	ExpectedKeywords []string `json:"expected_keywords"`
	// GroundTruth is an optional reference answer, kept for human review.
	GroundTruth string `json:"ground_truth,omitempty"`
}

// Result is the measured outcome of one case.
type Result struct {
	Question       string   `json:"question"`
	Answer         string   `json:"answer"`
	SourcesFound   int      `json:"sources_found"`
	ResponseTimeMS int64    `json:"response_time_ms"`
	KeywordScore   float64  `json:"keyword_match_score"`
	Matched        []string `json:"matched_keywords"`
	Missing        []string `json:"missing_keywords"`
	Error          string   `json:"error,omitempty"`
}

// Summary aggregates a full evaluation run.
type Summary struct {
	TotalCases           int     `json:"total_cases"`
	AvgResponseTimeMS    float64 `json:"avg_response_time_ms"`
	RetrievalSuccessRate float64 `json:"retrieval_success_rate"`
	AvgKeywordCoverage   float64 `json:"avg_keyword_coverage"`
}

// Report is the full output of Run.
type Report struct {
	Results []Result `json:"results"`
	Summary Summary  `json:"summary"`
}

// Answerer runs the full QA pipeline for a question. qa.Engine satisfies it.
type Answerer interface {
	Answer(ctx context.Context, req qa.Request) (*qa.Result, error)
}

// Generator runs a raw generation with no retrieved context. llm.Client
// satisfies it; the baseline comparison uses it to show what the model
// answers unaided.
type Generator interface {
	Generate(ctx context.Context, prompt, system string, opts llm.Options) (string, error)
}

// Scorer exposes scored retrieval. rag.Service satisfies it.
type Scorer interface {
	SearchWithScores(ctx context.Context, query string, k int, filter *rag.Filter) ([]rag.Chunk, error)
}

// KeywordCoverage scores how many expected keywords appear in the answer,
// matched case-insensitively as substrings. An empty keyword list scores 0:
// a case that expects nothing cannot demonstrate correctness.
func KeywordCoverage(answer string, keywords []string) (score float64, matched, missing []string) {
	if len(keywords) == 0 {
		return 0, nil, nil
	}
	lower := strings.ToLower(answer)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		} else {
			missing = append(missing, kw)
		}
	}
	return float64(len(matched)) / float64(len(keywords)), matched, missing
}

// Run evaluates every case through the QA pipeline and aggregates the
// outcomes. A failing case is recorded with its error and scores zero; the
// run continues.
func Run(ctx context.Context, answerer Answerer, cases []Case) (*Report, error) {
	if len(cases) == 0 {
		return nil, fmt.Errorf("eval: no cases to run")
	}

	report := &Report{Results: make([]Result, 0, len(cases))}
	var totalMS float64
	var totalCoverage float64
	var retrieved int

	for _, c := range cases {
		start := time.Now()
		r := Result{Question: c.Question}

		res, err := answerer.Answer(ctx, qa.Request{Question: c.Question})
		r.ResponseTimeMS = time.Since(start).Milliseconds()

		if err != nil {
			r.Error = err.Error()
		} else {
			r.Answer = res.Answer
			r.SourcesFound = len(res.Sources)
			r.KeywordScore, r.Matched, r.Missing = KeywordCoverage(res.Answer, c.ExpectedKeywords)
		}

		totalMS += float64(r.ResponseTimeMS)
		totalCoverage += r.KeywordScore
		if r.SourcesFound > 0 {
			retrieved++
		}
		report.Results = append(report.Results, r)
	}

	n := float64(len(cases))
	report.Summary = Summary{
		TotalCases:           len(cases),
		AvgResponseTimeMS:    totalMS / n,
		RetrievalSuccessRate: float64(retrieved) / n * 100,
		AvgKeywordCoverage:   totalCoverage / n * 100,
	}
	return report, nil
}

// baselineSystem is the system prompt for ungrounded baseline answers.
const baselineSystem = "You are a helpful technical assistant. Answer the question from your own knowledge."

// Comparison is a side-by-side of grounded and ungrounded answers for one
// question.
type Comparison struct {
	Question         string  `json:"question"`
	RAGAnswer        string  `json:"rag_answer"`
	BaselineAnswer   string  `json:"baseline_answer"`
	RAGCoverage      float64 `json:"rag_keyword_coverage"`
	BaselineCoverage float64 `json:"baseline_keyword_coverage"`
	SourcesFound     int     `json:"sources_found"`
	Error            string  `json:"error,omitempty"`
}

// CompareBaseline answers every case twice, once through the full pipeline
// and once with no retrieved context, and scores both against the expected
// keywords.
func CompareBaseline(ctx context.Context, answerer Answerer, generator Generator, cases []Case) ([]Comparison, error) {
	if len(cases) == 0 {
		return nil, fmt.Errorf("eval: no cases to run")
	}

	out := make([]Comparison, 0, len(cases))
	for _, c := range cases {
		cmp := Comparison{Question: c.Question}

		res, err := answerer.Answer(ctx, qa.Request{Question: c.Question})
		if err != nil {
			cmp.Error = err.Error()
			out = append(out, cmp)
			continue
		}
		cmp.RAGAnswer = res.Answer
		cmp.SourcesFound = len(res.Sources)
		cmp.RAGCoverage, _, _ = KeywordCoverage(res.Answer, c.ExpectedKeywords)

		baseline, err := generator.Generate(ctx, c.Question, baselineSystem, llm.Options{Temperature: 0.3})
		if err != nil {
			cmp.Error = err.Error()
			out = append(out, cmp)
			continue
		}
		cmp.BaselineAnswer = baseline
		cmp.BaselineCoverage, _, _ = KeywordCoverage(baseline, c.ExpectedKeywords)

		out = append(out, cmp)
	}
	return out, nil
}

// Retrieval quality score bands, keyed by the best-match similarity of each
// probe question.
const (
	bandExcellent = 0.8
	bandGood      = 0.6
	bandFair      = 0.4
)

// RetrievalReport summarizes retrieval health over a set of probe questions.
type RetrievalReport struct {
	// Probes is the per-question best score, keyed by question.
	Probes map[string]float64 `json:"probes"`
	// Excellent, Good, Fair, Poor count probes per score band.
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Fair      int `json:"fair"`
	Poor      int `json:"poor"`
	// AvgTopScore is the mean best-match score across probes.
	AvgTopScore float64 `json:"avg_top_score"`
	// Recommendation is a human-readable verdict on index health.
	Recommendation string `json:"recommendation"`
}

// RetrievalQuality probes the index with each question and bands the best
// match score. It bypasses generation entirely, isolating retrieval.
func RetrievalQuality(ctx context.Context, scorer Scorer, questions []string, k int) (*RetrievalReport, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("eval: no probe questions")
	}
	if k <= 0 {
		k = 3
	}

	report := &RetrievalReport{Probes: make(map[string]float64, len(questions))}
	var total float64

	for _, q := range questions {
		chunks, err := scorer.SearchWithScores(ctx, q, k, nil)
		if err != nil {
			return nil, fmt.Errorf("eval: probe %q: %w", q, err)
		}

		var top float64
		if len(chunks) > 0 {
			top = float64(chunks[0].Score)
		}
		report.Probes[q] = top
		total += top

		switch {
		case top > bandExcellent:
			report.Excellent++
		case top > bandGood:
			report.Good++
		case top > bandFair:
			report.Fair++
		default:
			report.Poor++
		}
	}

	report.AvgTopScore = total / float64(len(questions))
	switch {
	case report.AvgTopScore > 0.7:
		report.Recommendation = "Excellent: retrieval is finding highly relevant context"
	case report.AvgTopScore > 0.5:
		report.Recommendation = "Good: retrieval is usable but could improve with better chunking or more documents"
	default:
		report.Recommendation = "Needs improvement: consider re-chunking, adding documents, or a different embedding model"
	}
	return report, nil
}
