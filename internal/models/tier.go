package models

type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierLitPlus    Tier = "litplus"
	TierEnterprise Tier = "enterprise"
)

// Rank orders tiers: free < basic < premium = litplus < enterprise.
// Unknown tiers rank as free.
func (t Tier) Rank() int {
	switch t {
	case TierBasic:
		return 1
	case TierPremium, TierLitPlus:
		return 2
	case TierEnterprise:
		return 3
	default:
		return 0
	}
}

// ShouldUpgrade reports whether candidate strictly outranks current.
// Equal-rank tiers (premium vs litplus) never replace each other.
func ShouldUpgrade(current, candidate Tier) bool {
	return candidate.Rank() > current.Rank()
}

// TierFromAmount infers a tier from a one-off payment amount. Subscription
// events set the tier explicitly instead of going through this inference.
func TierFromAmount(amountCents int64) Tier {
	switch {
	case amountCents >= 10000:
		return TierEnterprise
	case amountCents >= 5000:
		return TierPremium
	case amountCents >= 2000:
		return TierBasic
	default:
		return TierFree
	}
}
