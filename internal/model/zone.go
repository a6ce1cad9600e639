package model

// Zone is one resource (zone) under a tenant account. Immutable once
// fetched; the account coordinator refreshes the full list on expiry.
type Zone struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	PlanID    string `json:"plan_id"`
	AccountID string `json:"account_id"`
}

// Restricted reports whether the zone's plan lacks access to the full-tier
// analytics query classes.
func (z Zone) Restricted(restrictedPlans map[string]bool) bool {
	return restrictedPlans[z.PlanID]
}
