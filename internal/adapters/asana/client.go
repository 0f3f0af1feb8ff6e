package asana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	// BaseURL is the Asana API base URL
	BaseURL = "https://app.asana.com/api/1.0"
)

// Client is an Asana API client
type Client struct {
	baseURL     string
	accessToken string
	workspaceID string
	httpClient  *http.Client
}

// NewClient creates a new Asana client
func NewClient(accessToken, workspaceID string) *Client {
	return &Client{
		baseURL:     BaseURL,
		accessToken: accessToken,
		workspaceID: workspaceID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithBaseURL creates a new Asana client with a custom base URL (for testing)
func NewClientWithBaseURL(baseURL, accessToken, workspaceID string) *Client {
	c := NewClient(accessToken, workspaceID)
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return c
}

// doRequest performs an HTTP request to the Asana API
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Bearer token authentication
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Try to parse Asana error response
		var apiResp APIResponse[interface{}]
		if err := json.Unmarshal(respBody, &apiResp); err == nil && len(apiResp.Errors) > 0 {
			return fmt.Errorf("asana API error (status %d): %s", resp.StatusCode, apiResp.Errors[0].Message)
		}
		return fmt.Errorf("asana API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// CreateTask creates a task in the given project
func (c *Client) CreateTask(ctx context.Context, name, notes, projectGID string) (*Task, error) {
	reqBody := map[string]interface{}{
		"data": map[string]interface{}{
			"name":      name,
			"notes":     notes,
			"projects":  []string{projectGID},
			"workspace": c.workspaceID,
		},
	}

	var resp APIResponse[Task]
	if err := c.doRequest(ctx, http.MethodPost, "/tasks", reqBody, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// UploadAttachment uploads file content as an attachment on a task
func (c *Client) UploadAttachment(ctx context.Context, taskGID, fileName string, content []byte) (*Attachment, error) {
	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}

	if err := writer.WriteField("parent", taskGID); err != nil {
		return nil, fmt.Errorf("failed to write parent field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := c.baseURL + "/attachments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload attachment: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiResp APIResponse[interface{}]
		if err := json.Unmarshal(respBody, &apiResp); err == nil && len(apiResp.Errors) > 0 {
			return nil, fmt.Errorf("asana API error (status %d): %s", resp.StatusCode, apiResp.Errors[0].Message)
		}
		return nil, fmt.Errorf("asana API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result APIResponse[Attachment]
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result.Data, nil
}

// GetWorkspace fetches workspace info
func (c *Client) GetWorkspace(ctx context.Context) (*Workspace, error) {
	path := fmt.Sprintf("/workspaces/%s", c.workspaceID)
	var resp APIResponse[Workspace]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Ping checks if the Asana API is accessible and the token is valid
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetWorkspace(ctx)
	return err
}

// TaskURL builds the app deep link for a task within a project
func TaskURL(projectGID, taskGID string) string {
	return fmt.Sprintf("https://app.asana.com/0/%s/%s", projectGID, taskGID)
}
