package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllama_EmbedBatch(t *testing.T) {
	t.Parallel()

	var gotReq embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer srv.Close()

	e := NewOllama(&Config{Host: srv.URL, Model: "test-model"})
	got, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	if gotReq.Model != "test-model" {
		t.Errorf("want model test-model, got %q", gotReq.Model)
	}
	if len(gotReq.Input) != 2 {
		t.Errorf("want 2 inputs sent, got %d", len(gotReq.Input))
	}
	if len(got) != 2 || got[0][0] != 0.1 || got[1][1] != 0.4 {
		t.Errorf("unexpected embeddings: %+v", got)
	}
}

func TestOllama_EmbedSurfacesServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(embedResponse{Error: "model not found"})
	}))
	defer srv.Close()

	e := NewOllama(&Config{Host: srv.URL})
	_, err := e.Embed(context.Background(), []string{"anything"})
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Errorf("server error message not surfaced: %v", err)
	}
}

func TestOllama_EmbedCountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2}},
		})
	}))
	defer srv.Close()

	e := NewOllama(&Config{Host: srv.URL})
	_, err := e.Embed(context.Background(), []string{"one", "two"})
	if err == nil {
		t.Fatal("want mismatch error, got nil")
	}
}

func TestNewOllama_Defaults(t *testing.T) {
	t.Parallel()

	e := NewOllama(nil)
	if e.host != "http://localhost:11434" {
		t.Errorf("want default host, got %q", e.host)
	}
	if e.model != DefaultModel {
		t.Errorf("want default model, got %q", e.model)
	}
}
