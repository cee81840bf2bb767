package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"rag-client/internal/models"
)

// Ingest uploads a file into the user's knowledge base
func (c *Client) Ingest(ctx context.Context, filename string, content io.Reader) (*models.IngestResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			if err := mw.WriteField("user_id", c.userID); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("file", filename)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, content); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/ingest", nil), pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("failed to create ingest request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		pr.CloseWithError(io.ErrClosedPipe)
		return nil, fmt.Errorf("failed to upload %s: %w", filename, newError(resp))
	}

	var result models.IngestResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode ingest response: %w", err)
	}
	return &result, nil
}

// ListDocuments returns the user's ingested documents, newest first
func (c *Client) ListDocuments(ctx context.Context) ([]models.Document, error) {
	var resp struct {
		Documents []models.Document `json:"documents"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("/api/documents", c.userQuery()), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return resp.Documents, nil
}

// DeleteDocument removes a document and all of its chunks
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, c.endpoint("/api/documents/"+url.PathEscape(id), c.userQuery()), nil, nil); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}
