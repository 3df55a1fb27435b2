package entitlement

import "time"

// DefaultGrantMonths is the access duration of a purchase.
const DefaultGrantMonths = 6

// ComputeExpiry adds `months` calendar months to ref and returns the last millisecond of that day, in UTC.
// When the day does not exist in the target month, it is clamped to the month's last day:
// Jan 31 + 1 month = Feb 28 (or 29).
func ComputeExpiry(ref time.Time, months int) time.Time {
	y, m, d := ref.UTC().Date()

	// normalize year/month overflow from day 1 so the day can't spill into the next month
	ty, tm, _ := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC).Date()
	if last := daysIn(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, 23, 59, 59, int(999*time.Millisecond), time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
