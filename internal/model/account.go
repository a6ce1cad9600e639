package model

// TenantAccount is one tenant account at the upstream provider. Immutable
// once fetched; the fleet coordinator refreshes the full list on expiry.
type TenantAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
