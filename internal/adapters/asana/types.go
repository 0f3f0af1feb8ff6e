// Package asana provides an adapter for the Asana task tracker.
package asana

import "time"

// Task represents an Asana task
type Task struct {
	GID          string    `json:"gid"`
	Name         string    `json:"name"`
	Notes        string    `json:"notes"`
	Completed    bool      `json:"completed"`
	Projects     []Project `json:"projects,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Permalink    string    `json:"permalink_url,omitempty"`
	ResourceType string    `json:"resource_type"`
}

// Project represents an Asana project
type Project struct {
	GID          string `json:"gid"`
	Name         string `json:"name"`
	ResourceType string `json:"resource_type"`
}

// Workspace represents an Asana workspace
type Workspace struct {
	GID          string `json:"gid"`
	Name         string `json:"name"`
	ResourceType string `json:"resource_type"`
}

// Attachment represents an Asana attachment
type Attachment struct {
	GID          string    `json:"gid"`
	Name         string    `json:"name"`
	DownloadURL  string    `json:"download_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ResourceType string    `json:"resource_type"`
}

// APIResponse wraps all Asana API responses
type APIResponse[T any] struct {
	Data   T          `json:"data"`
	Errors []APIError `json:"errors,omitempty"`
}

// APIError represents an Asana API error
type APIError struct {
	Message string `json:"message"`
	Help    string `json:"help,omitempty"`
}
