package domain

import "time"

// Subscription is a registered destination for webhooks.
type Subscription struct {
	ID              string    `json:"id"`
	TargetURL       string    `json:"target_url"`
	Secret          string    `json:"secret,omitempty"`
	EventTypeFilter *string   `json:"event_type_filter,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateSubscriptionRequest is the validated input for creating a subscription.
type CreateSubscriptionRequest struct {
	TargetURL       string  `json:"target_url" validate:"required,url,max=255"`
	Secret          *string `json:"secret,omitempty" validate:"omitempty,max=255"`
	EventTypeFilter *string `json:"event_type_filter,omitempty" validate:"omitempty,max=255"`
}

// UpdateSubscriptionRequest is the validated input for updating a subscription.
// All fields are optional; only non-nil fields are applied.
type UpdateSubscriptionRequest struct {
	TargetURL       *string `json:"target_url,omitempty" validate:"omitempty,url,max=255"`
	Secret          *string `json:"secret,omitempty" validate:"omitempty,max=255"`
	EventTypeFilter *string `json:"event_type_filter,omitempty" validate:"omitempty,max=255"`
}
