package domain

// PlanInfo describes a plan offered on the pricing page.
type PlanInfo struct {
	ID         Plan     `json:"id"`
	Name       string   `json:"name"`
	PriceUSD   int      `json:"priceUsd"`   // Monthly price in USD cents (1900 = $19)
	DailyLimit int      `json:"dailyLimit"` // Pitch generations per UTC day
	Features   []string `json:"features"`
	Popular    bool     `json:"popular"`
}

// DailyLimits maps each plan to its daily generation credits.
type DailyLimits struct {
	Free    int
	Premium int
}

// DefaultDailyLimits are the limits used when configuration does not override them.
var DefaultDailyLimits = DailyLimits{Free: 5, Premium: 50}

// For returns the daily limit for plan. Unknown plans get the free limit.
func (l DailyLimits) For(plan Plan) int {
	if plan == PlanPremium {
		return l.Premium
	}
	return l.Free
}

// AvailablePlans returns the plan catalog with the configured limits.
func AvailablePlans(limits DailyLimits) []PlanInfo {
	return []PlanInfo{
		{
			ID:         PlanFree,
			Name:       "Free",
			PriceUSD:   0,
			DailyLimit: limits.Free,
			Features:   []string{"Pitch generator", "Elevator pitch", "Export to PDF"},
		},
		{
			ID:         PlanPremium,
			Name:       "Premium",
			PriceUSD:   1900, // $19/mo
			DailyLimit: limits.Premium,
			Features:   []string{"Everything in Free", "Investor deck outline", "Market sizing", "Priority generation"},
			Popular:    true,
		},
	}
}
