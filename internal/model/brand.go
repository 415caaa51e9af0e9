package model

import "encoding/json"

// Brand is a data holder brand discovered via the register. Brands are
// scoped per run: the same brand observed in two runs yields two rows,
// which is what lets registry drift stay visible over time.
type Brand struct {
	RunID         string   `json:"run_id"`
	ID            string   `json:"dataHolderBrandId"`
	Name          string   `json:"brandName"`
	Group         string   `json:"brandGroup"`
	Industries    []string `json:"industries"`
	PublicBaseURI string   `json:"publicBaseUri"`
	ProductBase   string   `json:"productBaseUri"`
	LogoURI       string   `json:"logoUri"`
	LastUpdated   string   `json:"lastUpdated"`
}

// BaseURI returns the URI product requests should be issued against:
// the product base when declared, otherwise the public base.
func (b Brand) BaseURI() string {
	if b.ProductBase != "" {
		return b.ProductBase
	}
	return b.PublicBaseURI
}

// IndustriesJSON renders the industries list as a jsonb-ready blob.
func (b Brand) IndustriesJSON() []byte {
	raw, err := json.Marshal(b.Industries)
	if err != nil {
		return []byte("[]")
	}
	return raw
}

// BrandSummaryPage is the register's brands/summary response body.
type BrandSummaryPage struct {
	Data []Brand `json:"data"`
}
