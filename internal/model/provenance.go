package model

import "time"

// APICall records the outcome of a single HTTP exchange. Keyed by
// (run, provider, endpoint, url); a retried identical request
// overwrites its prior row — last observation wins.
type APICall struct {
	RunID       string    `json:"run_id"`
	ProviderID  string    `json:"provider_id"`
	Endpoint    string    `json:"endpoint"`
	URL         string    `json:"url"`
	HTTPStatus  int       `json:"http_status"`
	RespondedXV *int      `json:"responded_xv,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
	ETag        string    `json:"etag,omitempty"`
	PayloadHash string    `json:"payload_hash,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// RawPage is one fetched product-list page, keyed by
// (run, provider, endpoint, page_num). Payload is nil when the body
// failed to parse.
type RawPage struct {
	RunID       string    `json:"run_id"`
	ProviderID  string    `json:"provider_id"`
	BrandName   string    `json:"brand_name,omitempty"`
	Endpoint    string    `json:"endpoint"`
	URL         string    `json:"url"`
	PageNum     int       `json:"page_num"`
	HTTPStatus  int       `json:"http_status"`
	RespondedXV *int      `json:"responded_xv,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
	ETag        string    `json:"etag,omitempty"`
	Payload     []byte    `json:"payload,omitempty"`
	PayloadHash string    `json:"payload_hash,omitempty"`
}

// RawDetail is one fetched product-detail payload, keyed by
// (run, provider, product_id).
type RawDetail struct {
	RunID       string    `json:"run_id"`
	ProviderID  string    `json:"provider_id"`
	BrandName   string    `json:"brand_name,omitempty"`
	ProductID   string    `json:"product_id"`
	URL         string    `json:"url"`
	HTTPStatus  int       `json:"http_status"`
	RespondedXV *int      `json:"responded_xv,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
	ETag        string    `json:"etag,omitempty"`
	Payload     []byte    `json:"payload,omitempty"`
	PayloadHash string    `json:"payload_hash,omitempty"`
}

// ProductsPage is the shape of a provider's products response that the
// paginator cares about: the product list and the next-page link.
type ProductsPage struct {
	Data struct {
		Products []struct {
			ProductID string `json:"productId"`
		} `json:"products"`
	} `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}
