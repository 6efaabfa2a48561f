// Package jellyfin is a minimal client for the Jellyfin REST API.
// Connection details come from a credential callback so settings
// changes apply without restarting the process.
//
// API reference: https://api.jellyfin.org/
package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// EndpointFunc supplies the base URL and API token for each request.
type EndpointFunc func(ctx context.Context) (baseURL, token string, err error)

type Client struct {
	endpoint   EndpointFunc
	httpClient *http.Client
}

func NewClient(endpoint EndpointFunc) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SystemInfo is the /System/Info payload subset used for validation.
type SystemInfo struct {
	ServerName string `json:"ServerName"`
	Version    string `json:"Version"`
	ID         string `json:"Id"`
}

type User struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Policy struct {
		IsAdministrator bool `json:"IsAdministrator"`
	} `json:"Policy"`
}

type MediaFolder struct {
	ID             string `json:"Id"`
	Name           string `json:"Name"`
	CollectionType string `json:"CollectionType"`
}

type Item struct {
	ID       string `json:"Id"`
	Name     string `json:"Name"`
	Type     string `json:"Type"`
	ParentID string `json:"ParentId"`
}

type ItemsPage struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
	StartIndex       int    `json:"StartIndex"`
}

type ActivityEntry struct {
	ID            int64     `json:"Id"`
	Name          string    `json:"Name"`
	Type          string    `json:"Type"`
	UserID        string    `json:"UserId"`
	ItemID        string    `json:"ItemId"`
	Date          time.Time `json:"Date"`
	ShortOverview string    `json:"ShortOverview"`
	Severity      string    `json:"Severity"`
}

type ActivityLogPage struct {
	Items            []ActivityEntry `json:"Items"`
	TotalRecordCount int             `json:"TotalRecordCount"`
	StartIndex       int             `json:"StartIndex"`
}

// SystemInfo validates connectivity and credentials.
func (c *Client) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := c.get(ctx, "/System/Info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.get(ctx, "/Users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) MediaFolders(ctx context.Context) ([]MediaFolder, error) {
	var page struct {
		Items []MediaFolder `json:"Items"`
	}
	if err := c.get(ctx, "/Library/MediaFolders", nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// LibraryItems fetches one page of items under the given parent,
// recursively.
func (c *Client) LibraryItems(ctx context.Context, parentID string, startIndex, limit int) (*ItemsPage, error) {
	q := url.Values{}
	q.Set("ParentId", parentID)
	q.Set("Recursive", "true")
	q.Set("StartIndex", strconv.Itoa(startIndex))
	q.Set("Limit", strconv.Itoa(limit))

	var page ItemsPage
	if err := c.get(ctx, "/Items", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ActivityLogEntries fetches one page of the server activity log,
// optionally bounded to entries at or after minDate.
func (c *Client) ActivityLogEntries(ctx context.Context, startIndex, limit int, minDate *time.Time) (*ActivityLogPage, error) {
	q := url.Values{}
	q.Set("startIndex", strconv.Itoa(startIndex))
	q.Set("limit", strconv.Itoa(limit))
	if minDate != nil {
		q.Set("minDate", minDate.UTC().Format(time.RFC3339))
	}

	var page ActivityLogPage
	if err := c.get(ctx, "/System/ActivityLog/Entries", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	baseURL, token, err := c.endpoint(ctx)
	if err != nil {
		return fmt.Errorf("jellyfin endpoint: %w", err)
	}

	reqURL := baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("jellyfin request: %w", err)
	}
	req.Header.Set("X-Emby-Token", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jellyfin %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("jellyfin %s returned status %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode jellyfin %s response: %w", path, err)
	}
	return nil
}
