package ckan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

// TestRecordsPaginates verifies that the client follows offsets until the
// reported total is reached and concatenates all pages.
func TestRecordsPaginates(t *testing.T) {
	total := 5
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("resource_id"); got != "res-1" {
			t.Errorf("resource_id = %q", got)
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"result":{"total":`+strconv.Itoa(total)+`,"records":[`)
		first := true
		for i := offset; i < total && i < offset+limit; i++ {
			if !first {
				fmt.Fprint(w, ",")
			}
			first = false
			fmt.Fprintf(w, `{"ID":%d}`, i)
		}
		fmt.Fprint(w, `]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	records, err := c.Records(context.Background(), "res-1", 2)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != total {
		t.Fatalf("expected %d records, got %d", total, len(records))
	}
	if id, ok := records[4]["ID"].(float64); !ok || id != 4 {
		t.Fatalf("unexpected last record: %v", records[4])
	}
}

func TestRecordsUnsuccessfulEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":false}`)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	if _, err := c.Records(context.Background(), "res-1", 10); !errors.Is(err, ErrUnsuccessful) {
		t.Fatalf("expected ErrUnsuccessful, got %v", err)
	}
}

func TestRecordsEmptyResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"result":{"total":0,"records":[]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	if _, err := c.Records(context.Background(), "res-1", 10); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
}

func TestRecordsInvalidBatch(t *testing.T) {
	c := NewClient(http.DefaultClient, "http://unused.invalid")
	if _, err := c.Records(context.Background(), "res-1", 0); err == nil {
		t.Fatal("expected error for zero batch size")
	}
	if _, err := c.Records(context.Background(), "res-1", MaxBatch+1); err == nil {
		t.Fatal("expected error for oversized batch")
	}
}
