package queue

import "github.com/nikhilbhutani/docqa/internal/rag"

const (
	TypeDocumentIngest = "document:ingest"
)

// DocumentIngestPayload carries one document's extracted text to a worker.
type DocumentIngestPayload struct {
	Request rag.IngestRequest `json:"request"`
}
