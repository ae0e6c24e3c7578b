package ingest

import (
	"testing"
	"time"
)

func TestSequenceCode(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		from string
		want string
	}{
		{"display name with address", `"Sales Team" <sales+promo@Example.com>`, "20240102_030405_sa_example"},
		{"digits only local part", "123@x.io", "20240102_030405_xx_x"},
		{"single letter local part", "a@b.org", "20240102_030405_ax_b"},
		{"bare address", "info@news.example.co.uk", "20240102_030405_in_news"},
		{"no domain", "justaname", "20240102_030405_ju_domain"},
		{"empty", "", "20240102_030405_xx_domain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SequenceCode(tt.from, ts); got != tt.want {
				t.Errorf("SequenceCode(%q) = %q, want %q", tt.from, got, tt.want)
			}
		})
	}
}

func TestSequenceCode_TimestampPart(t *testing.T) {
	ts := time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)
	got := SequenceCode("a@b.com", ts)
	if want := "20251231_235959_ax_b"; got != want {
		t.Errorf("SequenceCode() = %q, want %q", got, want)
	}
}
