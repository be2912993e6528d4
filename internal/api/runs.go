package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"timbal-cli/internal/run"
)

// FileRef points at an uploaded attachment.
type FileRef struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// RunInput is the user side of one conversational turn.
type RunInput struct {
	Prompt string    `json:"prompt"`
	Files  []FileRef `json:"files,omitempty"`
}

// RunRequest starts a run. ParentRunID chains the turn onto a prior
// run so the backend resumes conversational context.
type RunRequest struct {
	Input       RunInput `json:"input"`
	ParentRunID string   `json:"parent_run_id,omitempty"`
}

// RunStream starts a run and returns the raw event stream.
func (c *Client) RunStream(ctx context.Context, app string, req RunRequest) (io.ReadCloser, error) {
	return c.Stream(ctx, "apps/"+app+"/runs/stream", req)
}

// Run executes a run synchronously and returns the single
// OUTPUT-shaped event the backend produces.
func (c *Client) Run(ctx context.Context, app string, req RunRequest) (*run.Event, error) {
	data, err := c.Do(ctx, http.MethodPost, "apps/"+app+"/runs", req)
	if err != nil {
		return nil, err
	}
	var ev run.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode run response: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run response: %w", err)
	}
	return &ev, nil
}

// UploadFile uploads an attachment and returns its reference.
func (c *Client) UploadFile(ctx context.Context, app, path string, r io.Reader) (FileRef, error) {
	name := filepath.Base(path)
	data, err := c.Upload(ctx, "apps/"+app+"/files", "file", name, r, nil)
	if err != nil {
		return FileRef{}, err
	}
	var ref FileRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return FileRef{}, fmt.Errorf("decode upload response: %w", err)
	}
	if ref.Name == "" {
		ref.Name = name
	}
	return ref, nil
}
