package models

import "time"

type User struct {
	ID                    int64      `json:"id"`
	Tier                  Tier       `json:"tier"`
	ProviderContactRef    string     `json:"provider_contact_ref,omitempty"`
	SubscriptionPlan      string     `json:"subscription_plan,omitempty"`
	SubscriptionStartedAt *time.Time `json:"subscription_started_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}
