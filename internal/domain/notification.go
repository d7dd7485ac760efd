package domain

import "time"

// ChannelType identifies a delivery transport.
type ChannelType string

const (
	ChannelTypeInApp    ChannelType = "in_app"
	ChannelTypeEmail    ChannelType = "email"
	ChannelTypeTelegram ChannelType = "telegram"
	ChannelTypeSMS      ChannelType = "sms"
	ChannelTypePush     ChannelType = "push"
)

// IsValid reports whether c is a known channel type.
func (c ChannelType) IsValid() bool {
	switch c {
	case ChannelTypeInApp, ChannelTypeEmail, ChannelTypeTelegram, ChannelTypeSMS, ChannelTypePush:
		return true
	}
	return false
}

// NotificationType is the kind of notification being sent.
type NotificationType string

const (
	NotificationTypeMedicationReminder NotificationType = "medication_reminder"
	NotificationTypeMissedDose         NotificationType = "missed_dose"
	NotificationTypeRefillReminder     NotificationType = "refill_reminder"
	NotificationTypeSystem             NotificationType = "system"
)

// NotificationStatus is the delivery status reported to live clients.
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusDelivered NotificationStatus = "delivered"
)

// Notification is the payload carried through the delivery pipeline.
type Notification struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Type      NotificationType   `json:"type"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	Channel   ChannelType        `json:"channel"`
	Recipient string             `json:"recipient,omitempty"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
	Status    NotificationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

// Metadata keys set on medication notifications.
const (
	MetaMedicationID   = "medication_id"
	MetaMedicationName = "medication_name"
	MetaDosage         = "dosage"
	MetaDoseAt         = "dose_at"
)
