package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

type InstanceStatus string

const (
	InstanceStatusCreated             InstanceStatus = "created"
	InstanceStatusQRGenerated         InstanceStatus = "qr_generated"
	InstanceStatusConnected           InstanceStatus = "connected"
	InstanceStatusDisconnected        InstanceStatus = "disconnected"
	InstanceStatusError               InstanceStatus = "error"
	InstanceStatusNotFoundInEvolution InstanceStatus = "not_found_in_evolution"
)

// WhatsappInstance binds one WhatsApp number to a subaccount.
type WhatsappInstance struct {
	Base
	SubaccountID          uuid.UUID      `json:"subaccount_id" db:"subaccount_id"`
	EvolutionInstanceName string         `json:"evolution_instance_name" db:"evolution_instance_name"`
	Status                InstanceStatus `json:"status" db:"status"`
	PhoneNumber           *string        `json:"phone_number,omitempty" db:"phone_number"`
	QRCode                *string        `json:"qr_code,omitempty" db:"qr_code"`
	ConnectedAt           *time.Time     `json:"connected_at,omitempty" db:"connected_at"`
	DisconnectedAt        *time.Time     `json:"disconnected_at,omitempty" db:"disconnected_at"`
	LastError             *string        `json:"last_error,omitempty" db:"last_error"`
}

func (i *WhatsappInstance) Phone() string {
	if i.PhoneNumber == nil {
		return ""
	}
	return *i.PhoneNumber
}

// transitions lists the defined edges of the instance state machine.
// Error is reachable from every state and is handled in CanTransition.
var transitions = map[InstanceStatus][]InstanceStatus{
	InstanceStatusCreated:             {InstanceStatusQRGenerated},
	InstanceStatusQRGenerated:         {InstanceStatusQRGenerated, InstanceStatusConnected},
	InstanceStatusConnected:           {InstanceStatusDisconnected},
	InstanceStatusDisconnected:        {InstanceStatusQRGenerated, InstanceStatusConnected},
	InstanceStatusError:               {InstanceStatusQRGenerated},
	InstanceStatusNotFoundInEvolution: {InstanceStatusQRGenerated},
}

// CanTransition reports whether from -> to is a defined edge.
func CanTransition(from, to InstanceStatus) bool {
	if to == InstanceStatusError {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may move to `to`.
func SourcesFor(to InstanceStatus) []InstanceStatus {
	var out []InstanceStatus
	for from := range transitions {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// InstanceName derives the provider instance name. With a location it is
// "wa-{locationId}", suffixed with the ordinal for additional slots.
// Without one it falls back to a timestamp name.
func InstanceName(locationID string, ordinal int, now time.Time) string {
	if locationID == "" {
		return "wa-" + strconv.FormatInt(now.UnixNano()/int64(time.Millisecond), 36)
	}
	if ordinal <= 1 {
		return "wa-" + locationID
	}
	return "wa-" + locationID + "-" + strconv.Itoa(ordinal)
}

// StatusUpdate carries the columns written alongside a status change.
type StatusUpdate struct {
	PhoneNumber    *string
	QRCode         *string
	ClearQRCode    bool
	ConnectedAt    *time.Time
	DisconnectedAt *time.Time
	LastError      *string
}

type ConnectionSource string

const (
	SourceWebhook ConnectionSource = "webhook"
	SourcePoll    ConnectionSource = "poll"
	SourceSync    ConnectionSource = "sync"
)

// InstanceConnectedEvent is pushed to the instance room once per connection.
type InstanceConnectedEvent struct {
	InstanceID  uuid.UUID `json:"instanceId"`
	PhoneNumber string    `json:"phoneNumber"`
}

type InstanceDisconnectedEvent struct {
	InstanceID uuid.UUID `json:"instanceId"`
}

type InstanceQREvent struct {
	InstanceID uuid.UUID `json:"instanceId"`
	QRCode     string    `json:"qrCode"`
}

const (
	EventInstanceConnected    = "instance-connected"
	EventInstanceDisconnected = "instance-disconnected"
	EventInstanceQR           = "instance-qr"
)

// InstanceRoom is the pub/sub room for one instance.
func InstanceRoom(id uuid.UUID) string {
	return "instance-" + id.String()
}

type QRCodeResponse struct {
	QRCode string `json:"qrCode"`
}
