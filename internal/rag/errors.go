package rag

import "errors"

// ErrNotInitialized is returned by retrieval entry points invoked before
// the embedder and vector index finished initializing. Callers that depend
// on search results for existence checks must treat it as fatal;
// administrative reporting may render it as a status instead.
var ErrNotInitialized = errors.New("rag: service not initialized")
