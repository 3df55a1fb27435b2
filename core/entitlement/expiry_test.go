package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func endOfDay(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 23, 59, 59, int(999*time.Millisecond), time.UTC)
}

func TestComputeExpiry(t *testing.T) {
	bogota := time.FixedZone("COT", -5*60*60)

	tests := []struct {
		name   string
		ref    time.Time
		months int
		want   time.Time
	}{
		{name: "mid month", ref: time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC), months: 6, want: endOfDay(2025, 7, 15)},
		{name: "month end, target has the day", ref: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), months: 6, want: endOfDay(2025, 7, 31)},
		{name: "clamped to february", ref: time.Date(2025, 8, 31, 8, 0, 0, 0, time.UTC), months: 6, want: endOfDay(2026, 2, 28)},
		{name: "clamped to leap day", ref: time.Date(2023, 8, 31, 8, 0, 0, 0, time.UTC), months: 6, want: endOfDay(2024, 2, 29)},
		{name: "clamped to 30-day month", ref: time.Date(2025, 3, 31, 8, 0, 0, 0, time.UTC), months: 1, want: endOfDay(2025, 4, 30)},
		{name: "year rollover", ref: time.Date(2025, 12, 15, 8, 0, 0, 0, time.UTC), months: 1, want: endOfDay(2026, 1, 15)},
		{name: "already end of day", ref: endOfDay(2025, 1, 15), months: 6, want: endOfDay(2025, 7, 15)},
		{name: "zero months", ref: time.Date(2025, 5, 5, 1, 0, 0, 0, time.UTC), months: 0, want: endOfDay(2025, 5, 5)},
		{name: "non-UTC ref uses the UTC day", ref: time.Date(2025, 1, 15, 22, 0, 0, 0, bogota), months: 6, want: endOfDay(2025, 7, 16)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeExpiry(tt.ref, tt.months)
			assert.True(t, got.Equal(tt.want), "ComputeExpiry() = %v, want %v", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestComputeExpiry_isAfterRef(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for day := 0; day < 366; day++ {
		ref := start.AddDate(0, 0, day)
		got := ComputeExpiry(ref, DefaultGrantMonths)
		if !got.After(ref.AddDate(0, DefaultGrantMonths, -4)) || got.Before(ref) {
			t.Fatalf("ComputeExpiry(%v) = %v, out of range", ref, got)
		}
	}
}
