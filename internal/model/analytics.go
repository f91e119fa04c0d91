package model

// AnalyticsResponse summarises a tenant's usage.
type AnalyticsResponse struct {
	Tenant  TenantSummary  `json:"tenant"`
	Summary UsageSummary   `json:"summary"`
	Period  PeriodSummary  `json:"period"`
	Agents  []AgentSummary `json:"agents"`
}

// TenantSummary identifies the tenant in an analytics response.
type TenantSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Plan Plan   `json:"plan"`
}

// UsageSummary holds lifetime totals.
type UsageSummary struct {
	TotalAgents       int `json:"total_agents"`
	ActiveAgents      int `json:"active_agents"`
	TotalChats        int `json:"total_chats"`
	TotalMessages     int `json:"total_messages"`
	UserMessages      int `json:"user_messages"`
	AssistantMessages int `json:"assistant_messages"`
}

// PeriodSummary holds chat counts for recent periods and monthly quota usage.
// A QuotaLimit of zero means unlimited.
type PeriodSummary struct {
	ChatsToday      int `json:"chats_today"`
	ChatsThisWeek   int `json:"chats_this_week"`
	ChatsThisMonth  int `json:"chats_this_month"`
	QuotaUsed       int `json:"quota_used"`
	QuotaLimit      int `json:"quota_limit"`
	QuotaPercentage int `json:"quota_percentage"`
}

// AgentSummary is the per-agent breakdown.
type AgentSummary struct {
	AgentID       string      `json:"agent_id"`
	Name          string      `json:"name"`
	Status        AgentStatus `json:"status"`
	Model         string      `json:"model"`
	TotalChats    int         `json:"total_chats"`
	TotalMessages int         `json:"total_messages"`
}
