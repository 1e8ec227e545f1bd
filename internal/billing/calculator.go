// Package billing holds the pure cost and conversion arithmetic. No state,
// no error paths; inputs are validated by callers.
package billing

// Rate is the fixed stars-per-cent conversion rate.
const Rate = 100

// CalculateCallCost prices a call at the per-minute rate prorated by the
// second, rounding the total up so a user is never undercharged.
func CalculateCallCost(durationSeconds, ratePerMinute int64) int64 {
	if durationSeconds <= 0 || ratePerMinute <= 0 {
		return 0
	}
	return (durationSeconds*ratePerMinute + 59) / 60
}

// ConvertUSDToStars converts a cent amount to stars at the fixed rate.
func ConvertUSDToStars(amountCents int64) int64 {
	return amountCents * Rate
}

// ConvertStarsToUSD converts stars back to cents, flooring non-multiples.
func ConvertStarsToUSD(stars int64) int64 {
	return stars / Rate
}
