// Package medinfo looks up drug label information from the openFDA API.
package medinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "medicared/pkg/logx"
)

const defaultBaseURL = "https://api.fda.gov/drug/label.json"

// ErrNotFound means openFDA has no label for the queried name.
var ErrNotFound = errors.New("no drug label found")

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Info is the subset of an openFDA drug label shown to users.
type Info struct {
	BrandName    string   `json:"brand_name,omitempty"`
	GenericName  string   `json:"generic_name,omitempty"`
	Purpose      []string `json:"purpose,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	Dosage       []string `json:"dosage_and_administration,omitempty"`
	SideEffects  []string `json:"adverse_reactions,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
}

type Client struct {
	base string
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// Lookup fetches the label for a drug name, trying the brand name first and
// falling back to the generic name.
func (c *Client) Lookup(ctx context.Context, name string) (Info, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Info{}, errors.New("drug name is empty")
	}

	info, err := c.search(ctx, `openfda.brand_name:"`+name+`"`)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Info{}, err
	}
	c.log.Debug("brand name lookup empty, trying generic", logx.String("name", name))
	return c.search(ctx, `openfda.generic_name:"`+name+`"`)
}

func (c *Client) search(ctx context.Context, query string) (Info, error) {
	u := c.base + "?search=" + url.QueryEscape(query) + "&limit=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Info{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()

	// openFDA answers 404 for an empty result set.
	if resp.StatusCode == http.StatusNotFound {
		return Info{}, ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return Info{}, fmt.Errorf("openfda: http %d", resp.StatusCode)
	}

	var body struct {
		Results []struct {
			Purpose                 []string `json:"purpose"`
			Warnings                []string `json:"warnings"`
			DosageAndAdministration []string `json:"dosage_and_administration"`
			AdverseReactions        []string `json:"adverse_reactions"`
			OpenFDA                 struct {
				BrandName        []string `json:"brand_name"`
				GenericName      []string `json:"generic_name"`
				ManufacturerName []string `json:"manufacturer_name"`
			} `json:"openfda"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Info{}, err
	}
	if len(body.Results) == 0 {
		return Info{}, ErrNotFound
	}

	r := body.Results[0]
	info := Info{
		Purpose:     r.Purpose,
		Warnings:    r.Warnings,
		Dosage:      r.DosageAndAdministration,
		SideEffects: r.AdverseReactions,
	}
	if len(r.OpenFDA.BrandName) > 0 {
		info.BrandName = r.OpenFDA.BrandName[0]
	}
	if len(r.OpenFDA.GenericName) > 0 {
		info.GenericName = r.OpenFDA.GenericName[0]
	}
	if len(r.OpenFDA.ManufacturerName) > 0 {
		info.Manufacturer = r.OpenFDA.ManufacturerName[0]
	}
	return info, nil
}
