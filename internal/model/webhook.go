package model

import "encoding/json"

// MessageWebhook is an inbound WhatsApp message relayed to the workflow engine.
type MessageWebhook struct {
	LocationID   string          `json:"locationId" binding:"required"`
	Message      json.RawMessage `json:"message" binding:"required"`
	From         string          `json:"from" binding:"required"`
	InstanceName string          `json:"instanceName" binding:"required"`
	Timestamp    int64           `json:"timestamp"`
}

// ForwardedMessage is the outbox payload for a message delivery.
type ForwardedMessage struct {
	URL  string         `json:"url"`
	Body MessageWebhook `json:"body"`
}

// EvolutionEvent is the envelope the provider posts to our webhook.
type EvolutionEvent struct {
	Event    string          `json:"event" binding:"required"`
	Instance string          `json:"instance" binding:"required"`
	Data     json.RawMessage `json:"data"`
}

type EvolutionConnectionData struct {
	State        string `json:"state"`
	Wuid         string `json:"wuid"`
	StatusReason int    `json:"statusReason"`
}

type EvolutionQRData struct {
	QRCode struct {
		Base64 string `json:"base64"`
		Code   string `json:"code"`
	} `json:"qrcode"`
}
