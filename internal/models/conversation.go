package models

// Conversation is a named, server-persisted chat thread
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt Timestamp `json:"created_at"`
}

// Document is an ingested file in the user's knowledge base
type Document struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	FileType      string    `json:"file_type"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	UploadedAt    Timestamp `json:"uploaded_at"`
}

// IngestResult is returned by a successful upload
type IngestResult struct {
	Message       string `json:"message"`
	DocumentID    string `json:"document_id"`
	ChunksCreated int    `json:"chunks_created"`
}
