package models

// Document is an uploaded file registered in the documents table. Its content
// lives in object storage under StoragePath and never changes after upload.
type Document struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	StoragePath string `json:"storage_object_path"`
}

// Section is one retrievable chunk of a document. Position is the insertion
// order within the document; the embedding, once present, always corresponds
// to Content as stored.
type Section struct {
	ID         int64     `json:"id,omitempty"`
	DocumentID int64     `json:"document_id,omitempty"`
	Position   int       `json:"position"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// Message roles accepted on the chat endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptResponse is the local query mode's result: the answer plus the
// section contents it was grounded on.
type PromptResponse struct {
	Query   string
	Source  string
	Content string
}

// Match pairs a stored section with its similarity to a query embedding.
// Matches are produced per query and never persisted.
type Match struct {
	SectionID  string  `json:"section_id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}
