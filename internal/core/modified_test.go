package core_test

import (
	"testing"
	"time"

	"github.com/iangow/db2pq/internal/core"
)

func nyLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	return loc
}

func TestParseLastModified(t *testing.T) {
	ny := nyLocation(t)

	t.Run("wall clock comment in winter", func(t *testing.T) {
		got, err := core.ParseLastModified("Last modified: 01/15/2024 21:30:00", ny)
		if err != nil {
			t.Fatalf("ParseLastModified() error = %v", err)
		}
		// 21:30 EST is 02:30 UTC the next day.
		want := time.Date(2024, 1, 16, 2, 30, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("wall clock comment in summer", func(t *testing.T) {
		got, err := core.ParseLastModified("Last modified: 07/15/2024 21:30:00", ny)
		if err != nil {
			t.Fatalf("ParseLastModified() error = %v", err)
		}
		// EDT is UTC-4.
		want := time.Date(2024, 7, 16, 1, 30, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("updated-on form assumes 02:00 local", func(t *testing.T) {
		got, err := core.ParseLastModified("Daily stock file (Updated 2024-01-15)", ny)
		if err != nil {
			t.Fatalf("ParseLastModified() error = %v", err)
		}
		want := time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("rfc3339 passes through", func(t *testing.T) {
		got, err := core.ParseLastModified("2024-01-15T10:30:00Z", ny)
		if err != nil {
			t.Fatalf("ParseLastModified() error = %v", err)
		}
		want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("rejects free text", func(t *testing.T) {
		if _, err := core.ParseLastModified("monthly data, no date here", ny); err == nil {
			t.Error("ParseLastModified() expected error for free text")
		}
	})

	t.Run("rejects empty string", func(t *testing.T) {
		if _, err := core.ParseLastModified("", ny); err == nil {
			t.Error("ParseLastModified() expected error for empty string")
		}
	})
}

func TestParseContentsModified(t *testing.T) {
	ny := nyLocation(t)

	t.Run("finds the last modified row", func(t *testing.T) {
		listing := "Data Set Name        CRSP.DSF\n" +
			"Observations         1024\n" +
			"    Last Modified    01/15/2024 21:30:00          Extra column\n" +
			"Created              01/01/2020 00:00:00\n"
		got, err := core.ParseContentsModified(listing, ny)
		if err != nil {
			t.Fatalf("ParseContentsModified() error = %v", err)
		}
		want := time.Date(2024, 1, 16, 2, 30, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("errors when no row present", func(t *testing.T) {
		if _, err := core.ParseContentsModified("nothing useful\n", ny); err == nil {
			t.Error("ParseContentsModified() expected error")
		}
	})
}
