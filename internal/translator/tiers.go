package translator

import "github.com/prudhvinik1/syncbridge/internal/models"

// Legacy tenants carry a named tier instead of numeric limits.
const (
	TierBasic        = "basic"
	TierStandard     = "standard"
	TierProfessional = "professional"
	TierUnlimited    = "unlimited"
)

type tier struct {
	name   string
	limits models.TenantLimits
}

// finiteTiers is ordered from smallest to largest. Every limit grows
// monotonically from one tier to the next.
var finiteTiers = []tier{
	{TierBasic, models.TenantLimits{MaxDevices: 10, MaxCustomers: 5, MaxMessagesPerDay: 10_000, MaxDataPointsDays: 30}},
	{TierStandard, models.TenantLimits{MaxDevices: 100, MaxCustomers: 50, MaxMessagesPerDay: 1_000_000, MaxDataPointsDays: 180}},
	{TierProfessional, models.TenantLimits{MaxDevices: 1_000, MaxCustomers: 500, MaxMessagesPerDay: 100_000_000, MaxDataPointsDays: 730}},
}

// LimitsToTier buckets numeric limits into a tier name.
//
// Rule: a limit of 0 or below means unlimited, so any such limit lands the
// tenant in TierUnlimited. Otherwise the tenant gets the smallest tier whose
// every limit is at least the tenant's value (round up, never down, so a
// tenant is never shown a tier tighter than what it actually has). Values
// above the largest finite tier map to TierUnlimited.
func LimitsToTier(l models.TenantLimits) string {
	if l.MaxDevices <= 0 || l.MaxCustomers <= 0 || l.MaxMessagesPerDay <= 0 || l.MaxDataPointsDays <= 0 {
		return TierUnlimited
	}
	for _, t := range finiteTiers {
		if l.MaxDevices <= t.limits.MaxDevices &&
			l.MaxCustomers <= t.limits.MaxCustomers &&
			l.MaxMessagesPerDay <= t.limits.MaxMessagesPerDay &&
			l.MaxDataPointsDays <= t.limits.MaxDataPointsDays {
			return t.name
		}
	}
	return TierUnlimited
}

// TierToLimits returns the representative limits of a tier. This is not an
// inverse of LimitsToTier: every tenant in a tier comes back with the tier's
// ceiling values. TierUnlimited comes back as all zeroes. Unknown names are
// treated as TierBasic.
func TierToLimits(name string) models.TenantLimits {
	if name == TierUnlimited {
		return models.TenantLimits{}
	}
	for _, t := range finiteTiers {
		if t.name == name {
			return t.limits
		}
	}
	return finiteTiers[0].limits
}
