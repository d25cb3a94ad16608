package model

type NotificationKind string

const (
	NotificationInstallCompleted     NotificationKind = "install_completed"
	NotificationInstanceDisconnected NotificationKind = "instance_disconnected"
)

// Notification is the payload of a notification.email outbox event.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Recipient string           `json:"recipient"`
	Subject   string           `json:"subject"`
	Body      string           `json:"body"`
}
