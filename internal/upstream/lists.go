package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/edvin/edgemetrics/internal/model"
)

// ListAccounts fetches every tenant account visible to the token.
func (c *Client) ListAccounts(ctx context.Context) ([]model.TenantAccount, error) {
	var accounts []model.TenantAccount
	err := c.doPaged(ctx, "/accounts", func(raw json.RawMessage) error {
		var page []model.TenantAccount
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("decode accounts page: %w", err)
		}
		accounts = append(accounts, page...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

type zoneRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Plan   struct {
		ID string `json:"id"`
	} `json:"plan"`
	Account struct {
		ID string `json:"id"`
	} `json:"account"`
}

// ListZones fetches every zone under an account.
func (c *Client) ListZones(ctx context.Context, accountID string) ([]model.Zone, error) {
	var zones []model.Zone
	path := "/zones?account.id=" + url.QueryEscape(accountID)
	err := c.doPaged(ctx, path, func(raw json.RawMessage) error {
		var page []zoneRecord
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("decode zones page: %w", err)
		}
		for _, z := range page {
			zones = append(zones, model.Zone{
				ID:        z.ID,
				Name:      z.Name,
				Status:    z.Status,
				PlanID:    z.Plan.ID,
				AccountID: z.Account.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list zones for account %s: %w", accountID, err)
	}
	return zones, nil
}

type firewallRule struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// ListFirewallRules resolves the zone's firewall rule IDs to their
// human-readable descriptions. Used to label firewall event metrics.
func (c *Client) ListFirewallRules(ctx context.Context, zoneID string) (map[string]string, error) {
	labels := make(map[string]string)
	path := fmt.Sprintf("/zones/%s/firewall/rules", url.PathEscape(zoneID))
	err := c.doPaged(ctx, path, func(raw json.RawMessage) error {
		var page []firewallRule
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("decode firewall rules page: %w", err)
		}
		for _, r := range page {
			labels[r.ID] = r.Description
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list firewall rules for zone %s: %w", zoneID, err)
	}
	return labels, nil
}
