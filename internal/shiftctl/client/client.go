// Package client is the HTTP client shiftctl uses to talk to shiftd.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shiftsmith/shiftsmith/models"
	"github.com/shiftsmith/shiftsmith/orchestrator"
)

// Client is a shiftd API client
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a new shiftd API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) joinURL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.joinURL(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr models.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Details != "" {
				return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Details)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// StartShift starts a traffic shift and returns its ID.
func (c *Client) StartShift(req models.StartShiftRequest) (*models.StartShiftResponse, error) {
	var resp models.StartShiftResponse
	if err := c.do(http.MethodPost, "/api/v1/shifts", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetShift returns the status of a shift.
func (c *Client) GetShift(id string) (*models.ShiftStatus, error) {
	var status models.ShiftStatus
	if err := c.do(http.MethodGet, "/api/v1/shifts/"+id, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ShiftList is a page of persisted shifts for one environment.
type ShiftList struct {
	Shifts []models.TrafficShiftResult `json:"shifts" yaml:"shifts"`
	Total  int                         `json:"total" yaml:"total"`
	Limit  int                         `json:"limit" yaml:"limit"`
	Offset int                         `json:"offset" yaml:"offset"`
}

// ListShifts returns the persisted shift history for an environment.
func (c *Client) ListShifts(env string, limit, offset int) (*ShiftList, error) {
	var list ShiftList
	path := fmt.Sprintf("/api/v1/shifts?env=%s&limit=%d&offset=%d", env, limit, offset)
	if err := c.do(http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// DeployResponse acknowledges an accepted deployment pipeline run.
type DeployResponse struct {
	DeploymentID string               `json:"deployment_id"`
	ShiftID      string               `json:"shift_id"`
	Strategy     models.ShiftStrategy `json:"strategy"`
}

// Deploy runs the full deployment pipeline and returns the tracked shift ID.
func (c *Client) Deploy(req orchestrator.DeployRequest) (*DeployResponse, error) {
	var resp DeployResponse
	if err := c.do(http.MethodPost, "/api/v1/deploy", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rollback sends all traffic back to the old environment.
func (c *Client) Rollback(req models.RollbackRequest) error {
	return c.do(http.MethodPost, "/api/v1/rollback", req, nil)
}

// CancelShift cancels a running shift.
func (c *Client) CancelShift(id string) error {
	return c.do(http.MethodPost, "/api/v1/shifts/"+id+"/cancel", nil, nil)
}

// Resolve builds and resolves a dependency graph.
func (c *Client) Resolve(deploymentID string, req models.ResolveRequest) (*models.ResolveResponse, error) {
	var resp models.ResolveResponse
	if err := c.do(http.MethodPost, "/api/v1/deployments/"+deploymentID+"/resolve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Inject re-emits configuration for one component.
func (c *Client) Inject(deploymentID, component string) (*models.InjectResponse, error) {
	var resp models.InjectResponse
	if err := c.do(http.MethodPost, "/api/v1/deployments/"+deploymentID+"/inject/"+component, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeploymentHealth returns the aggregate health of a deployment.
func (c *Client) DeploymentHealth(deploymentID string) (*models.DeploymentHealthReport, error) {
	var report models.DeploymentHealthReport
	if err := c.do(http.MethodGet, "/api/v1/deployments/"+deploymentID+"/health", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
