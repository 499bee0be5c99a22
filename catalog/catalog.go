package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vorpalengineering/x402-agent/types"
	"gopkg.in/yaml.v3"
)

// Config is the YAML catalog file. Prices are human decimal amounts of the
// asset; AssetDecimals converts them to atomic units.
type Config struct {
	Network           string    `yaml:"network"`
	Asset             string    `yaml:"asset"`
	AssetDecimals     int32     `yaml:"asset_decimals"`
	AssetName         string    `yaml:"asset_name"`
	AssetVersion      string    `yaml:"asset_version"`
	PayTo             string    `yaml:"pay_to"`
	MaxTimeoutSeconds int       `yaml:"max_timeout_seconds"`
	Products          []Product `yaml:"products"`
}

type Product struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Aliases     []string       `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Description string         `yaml:"description" json:"description"`
	Price       string         `yaml:"price" json:"price"`
	MimeType    string         `yaml:"mime_type" json:"mimeType"`
	Content     map[string]any `yaml:"content,omitempty" json:"-"`
}

type Catalog struct {
	config   Config
	products map[string]*Product
	amounts  map[string]string
	// lowercased id, name and aliases to product id
	index map[string]string
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(cfg)
}

func New(cfg Config) (*Catalog, error) {
	if cfg.Network == "" {
		return nil, errors.New("network is required")
	}
	if !common.IsHexAddress(cfg.Asset) {
		return nil, fmt.Errorf("invalid asset address: %q", cfg.Asset)
	}
	if !common.IsHexAddress(cfg.PayTo) {
		return nil, fmt.Errorf("invalid pay_to address: %q", cfg.PayTo)
	}
	if cfg.AssetDecimals < 0 {
		return nil, fmt.Errorf("invalid asset_decimals: %d", cfg.AssetDecimals)
	}
	if cfg.MaxTimeoutSeconds == 0 {
		cfg.MaxTimeoutSeconds = 300
	}

	c := &Catalog{
		config:   cfg,
		products: make(map[string]*Product, len(cfg.Products)),
		amounts:  make(map[string]string, len(cfg.Products)),
		index:    make(map[string]string),
	}

	for i := range cfg.Products {
		p := &cfg.Products[i]
		if p.ID == "" {
			return nil, fmt.Errorf("product %d has no id", i)
		}
		if _, exists := c.products[p.ID]; exists {
			return nil, fmt.Errorf("duplicate product id: %s", p.ID)
		}

		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", p.ID, err)
		}
		amount, err := ToAtomic(price, cfg.AssetDecimals)
		if err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", p.ID, err)
		}

		c.products[p.ID] = p
		c.amounts[p.ID] = amount

		for _, key := range append([]string{p.ID, p.Name}, p.Aliases...) {
			key = normalize(key)
			if key == "" {
				continue
			}
			if other, taken := c.index[key]; taken && other != p.ID {
				return nil, fmt.Errorf("reference %q is ambiguous between %s and %s", key, other, p.ID)
			}
			c.index[key] = p.ID
		}
	}

	return c, nil
}

// ToAtomic converts a human price to the asset's smallest unit. Prices finer
// than the asset's precision are rejected rather than rounded.
func ToAtomic(price decimal.Decimal, decimals int32) (string, error) {
	if price.IsNegative() {
		return "", fmt.Errorf("price cannot be negative: %s", price)
	}
	atomic := price.Shift(decimals)
	if !atomic.IsInteger() {
		return "", fmt.Errorf("price %s has more than %d decimal places", price, decimals)
	}
	return atomic.BigInt().String(), nil
}

// Resolve maps a human product reference (id, name or alias, any case) to
// a product id.
func (c *Catalog) Resolve(_ context.Context, reference string) (string, error) {
	id, ok := c.index[normalize(reference)]
	if !ok {
		return "", types.NewPaymentError(types.CodeUnknownResource, fmt.Sprintf("no product matches %q", reference), nil)
	}
	return id, nil
}

func (c *Catalog) Price(_ context.Context, resourceID string) (*types.PriceDescriptor, error) {
	p, ok := c.products[resourceID]
	if !ok {
		return nil, types.NewPaymentError(types.CodeUnknownResource, resourceID, nil)
	}

	var extra map[string]any
	if c.config.AssetName != "" {
		extra = map[string]any{
			"name":    c.config.AssetName,
			"version": c.config.AssetVersion,
		}
	}

	return &types.PriceDescriptor{
		ResourceID:        p.ID,
		Amount:            c.amounts[p.ID],
		Asset:             c.config.Asset,
		Network:           c.config.Network,
		PayTo:             c.config.PayTo,
		Description:       p.Description,
		MimeType:          p.MimeType,
		MaxTimeoutSeconds: c.config.MaxTimeoutSeconds,
		Extra:             extra,
	}, nil
}

func (c *Catalog) Product(resourceID string) (*Product, bool) {
	p, ok := c.products[resourceID]
	return p, ok
}

// Listings returns every product with its atomic price, ordered by id
func (c *Catalog) Listings() []Listing {
	listings := make([]Listing, 0, len(c.products))
	for id, p := range c.products {
		listings = append(listings, Listing{
			Product: *p,
			Amount:  c.amounts[id],
			Asset:   c.config.Asset,
			Network: c.config.Network,
		})
	}
	sort.Slice(listings, func(i, j int) bool {
		return listings[i].ID < listings[j].ID
	})
	return listings
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
