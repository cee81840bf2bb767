package library

import (
	"context"
	"io"
	"sync"

	"rag-client/internal/document"
	"rag-client/internal/logging"
	"rag-client/internal/models"
)

// DocumentAPI is the knowledge base resource of the backend
type DocumentAPI interface {
	Ingest(ctx context.Context, filename string, content io.Reader) (*models.IngestResult, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// Documents is the client-side view of the user's knowledge base
type Documents struct {
	api DocumentAPI

	mu    sync.RWMutex
	items []models.Document
}

func NewDocuments(api DocumentAPI) *Documents {
	return &Documents{api: api}
}

func (d *Documents) Refresh(ctx context.Context) error {
	items, err := d.api.ListDocuments(ctx)
	if err != nil {
		logging.Error("Failed to list documents: %v", err)
		return err
	}

	d.mu.Lock()
	d.items = items
	d.mu.Unlock()
	return nil
}

func (d *Documents) Items() []models.Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]models.Document(nil), d.items...)
}

// UploadFile validates and ingests a file from disk
func (d *Documents) UploadFile(ctx context.Context, path string) (*models.IngestResult, error) {
	up, err := document.PrepareFile(path)
	if err != nil {
		return nil, err
	}
	return d.upload(ctx, up)
}

// PasteText ingests pasted text as a generated .txt document
func (d *Documents) PasteText(ctx context.Context, text string) (*models.IngestResult, error) {
	up, err := document.PrepareText(text)
	if err != nil {
		return nil, err
	}
	return d.upload(ctx, up)
}

func (d *Documents) upload(ctx context.Context, up *document.Upload) (*models.IngestResult, error) {
	logging.Info("Uploading %s (%d bytes, %s)", up.Filename, up.Size(), up.Encoding)

	res, err := d.api.Ingest(ctx, up.Filename, up.Reader())
	if err != nil {
		logging.Error("Failed to upload %s: %v", up.Filename, err)
		return nil, err
	}
	logging.Info("Ingested %s as %s: %d chunks", up.Filename, res.DocumentID, res.ChunksCreated)

	if err := d.Refresh(ctx); err != nil {
		logging.Warn("Document list may be out of date: %v", err)
	}
	return res, nil
}

// Delete removes a document locally, then on the backend. A failed commit
// refetches the list.
func (d *Documents) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	kept := d.items[:0:0]
	for _, item := range d.items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	d.items = kept
	d.mu.Unlock()

	if err := d.api.DeleteDocument(ctx, id); err != nil {
		logging.Error("Failed to delete document %s: %v", id, err)
		if rerr := d.Refresh(ctx); rerr != nil {
			logging.Warn("Document list may be out of date: %v", rerr)
		}
		return err
	}
	logging.Info("Deleted document %s", id)
	return nil
}
