package models

// Platform represents a tenant of the payout service. Every charge, refund
// and trust-score lookup is scoped to a platform, and the dashboard API
// authenticates with the platform's API key.
type Platform struct {
	BaseModel
	PlatformID  string `json:"platform_id" gorm:"uniqueIndex;not null"`
	Name        string `json:"name" gorm:"not null"`
	APIKey      string `json:"api_key" gorm:"uniqueIndex;not null"`
	IsActive    bool   `json:"is_active" gorm:"default:true"`
	Description string `json:"description"`

	// Where refund / dispute outcome notifications for this platform's
	// creators are sent.
	NotifyEmail string `json:"notify_email"`

	// Webhook configuration for pushing decision results back to the
	// platform's own backend.
	WebhookCallbackURL string `json:"webhook_callback_url" gorm:"type:varchar(500)"`
	WebhookSecret      string `json:"webhook_secret" gorm:"type:varchar(255)"`
}
