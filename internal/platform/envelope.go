package platform

import (
	"encoding/json"
	"fmt"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

// Envelope is the {status, result, errorMessage} wrapper of every v1 response.
type Envelope struct {
	Status       bool            `json:"status"`
	Result       json.RawMessage `json:"result"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// Page is a list result.
type Page struct {
	Total    int               `json:"total"`
	Filtered int               `json:"filtered"`
	Count    int               `json:"count"`
	Entities []models.Resource `json:"entities"`
}

// DecodeEnvelope parses a response body. A false status with an error
// message is returned as an error.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if !env.Status && env.ErrorMessage != "" {
		return nil, fmt.Errorf("api error: %s", env.ErrorMessage)
	}
	return &env, nil
}

// Entity decodes a single-object result. A missing result yields nil.
func (e *Envelope) Entity() (models.Resource, error) {
	if len(e.Result) == 0 || string(e.Result) == "null" {
		return nil, nil
	}
	var res models.Resource
	if err := json.Unmarshal(e.Result, &res); err != nil {
		return nil, fmt.Errorf("parsing result: %w", err)
	}
	return res, nil
}

// List decodes a paginated result.
func (e *Envelope) List() (*Page, error) {
	page := &Page{}
	if len(e.Result) == 0 || string(e.Result) == "null" {
		return page, nil
	}
	if err := json.Unmarshal(e.Result, page); err != nil {
		return nil, fmt.Errorf("parsing list result: %w", err)
	}
	if page.Count == 0 {
		page.Count = len(page.Entities)
	}
	return page, nil
}

// Items decodes a result that is a bare array.
func (e *Envelope) Items() ([]models.Resource, error) {
	if len(e.Result) == 0 || string(e.Result) == "null" {
		return nil, nil
	}
	var items []models.Resource
	if err := json.Unmarshal(e.Result, &items); err != nil {
		return nil, fmt.Errorf("parsing result list: %w", err)
	}
	return items, nil
}

// Decode unmarshals the result into dest.
func (e *Envelope) Decode(dest interface{}) error {
	if len(e.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Result, dest); err != nil {
		return fmt.Errorf("parsing result: %w", err)
	}
	return nil
}
