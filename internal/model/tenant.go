// Package model defines data structures for the agent platform.
package model

import (
	"time"
)

// Plan is a tenant's subscription tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Tenant is a customer organisation owning agents and chats.
type Tenant struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	Plan      Plan           `json:"plan"`
	Settings  TenantSettings `json:"settings"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TenantSettings holds plan limits.
type TenantSettings struct {
	MaxAgents        int      `json:"max_agents"`
	MaxChatsPerMonth int      `json:"max_chats_per_month"`
	CustomBranding   bool     `json:"custom_branding"`
	AllowedModels    []string `json:"allowed_models"`
}

// AllowsModel reports whether the plan permits the given model id.
func (s TenantSettings) AllowsModel(model string) bool {
	for _, m := range s.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}
