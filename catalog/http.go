package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vorpalengineering/x402-agent/types"
)

// Listing is one product as served on GET /catalog
type Listing struct {
	Product
	Amount  string `json:"amount"`
	Asset   string `json:"asset"`
	Network string `json:"network"`
}

type ListResponse struct {
	Products []Listing `json:"products"`
}

// Handler serves the catalog listing
func (c *Catalog) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, ListResponse{Products: c.Listings()})
	}
}

// Client reads a remote catalog served by Handler
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

func (c *Client) List(ctx context.Context) ([]Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/catalog", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, string(body))
	}

	var list ListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return list.Products, nil
}

// Resolve matches reference against the remote listing the same way
// Catalog.Resolve does.
func (c *Client) Resolve(ctx context.Context, reference string) (string, error) {
	listings, err := c.List(ctx)
	if err != nil {
		return "", err
	}

	ref := normalize(reference)
	for _, l := range listings {
		keys := append([]string{l.ID, l.Name}, l.Aliases...)
		for _, key := range keys {
			if normalize(key) == ref && ref != "" {
				return l.ID, nil
			}
		}
	}
	return "", types.NewPaymentError(types.CodeUnknownResource, fmt.Sprintf("no product matches %q", reference), nil)
}
