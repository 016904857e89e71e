// Package rules retrieves rules and lore context from the vector store
package rules

import (
	"context"
	"encoding/json"
)

// NoContext replaces the rules context when retrieval finds nothing or fails
const NoContext = "No relevant documents found."

// DefaultLimit is the number of documents retrieved per turn
const DefaultLimit = 10

// Document is one rules or lore entry
type Document struct {
	Text     string `json:"text"`
	Source   string `json:"source"`
	Category string `json:"category"`
}

// Retriever searches rules documents
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]Document, error)
}

// FormatContext renders documents as the JSON list of texts placed in prompts
func FormatContext(docs []Document) string {
	texts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Text != "" {
			texts = append(texts, d.Text)
		}
	}
	if len(texts) == 0 {
		return NoContext
	}
	out, err := json.Marshal(texts)
	if err != nil {
		return NoContext
	}
	return string(out)
}
