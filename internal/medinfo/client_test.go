package medinfo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "medicared/pkg/logx"
)

const labelBody = `{
  "results": [{
    "purpose": ["Pain reliever"],
    "warnings": ["Do not exceed recommended dose"],
    "dosage_and_administration": ["take 1-2 tablets every 4 hours"],
    "openfda": {
      "brand_name": ["Tylenol"],
      "generic_name": ["ACETAMINOPHEN"],
      "manufacturer_name": ["Kenvue Brands LLC"]
    }
  }]
}`

func TestLookupBrandName(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("search")
		if !strings.Contains(q, `brand_name:"Tylenol"`) {
			t.Errorf("unexpected search query %q", q)
		}
		_, _ = w.Write([]byte(labelBody))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logx.Nop())
	info, err := c.Lookup(context.Background(), "Tylenol")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.BrandName != "Tylenol" || info.GenericName != "ACETAMINOPHEN" {
		t.Fatalf("info = %+v", info)
	}
	if len(info.Purpose) != 1 || info.Purpose[0] != "Pain reliever" {
		t.Fatalf("purpose = %v", info.Purpose)
	}
	if info.Manufacturer != "Kenvue Brands LLC" {
		t.Fatalf("manufacturer = %q", info.Manufacturer)
	}
}

func TestLookupFallsBackToGeneric(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("search")
		if strings.Contains(q, "brand_name") {
			// openFDA signals empty result sets with 404.
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(labelBody))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logx.Nop())
	info, err := c.Lookup(context.Background(), "acetaminophen")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.GenericName != "ACETAMINOPHEN" {
		t.Fatalf("info = %+v", info)
	}
}

func TestLookupNotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logx.Nop())
	if _, err := c.Lookup(context.Background(), "nosuchdrug"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup = %v, want ErrNotFound", err)
	}
}

func TestLookupEmptyName(t *testing.T) {
	t.Parallel()
	c := NewClient(Config{}, logx.Nop())
	if _, err := c.Lookup(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty name")
	}
}
