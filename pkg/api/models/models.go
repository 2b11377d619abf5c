package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

const (
	NotificationLightingChanged    = "lighting.changed"
	NotificationOrientationChanged = "display.orientation"
	NotificationDisplayUpdated     = "display.updated"
	NotificationTextChanged        = "text.changed"
	NotificationValuesChanged      = "values.changed"
	NotificationBackgroundChanged  = "display.background"
)

type Notification struct {
	Method string
	Params json.RawMessage
}

// EventObject is the frame sent to websocket clients for each notification.
type EventObject struct {
	ID     uuid.UUID       `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type LightingParams struct {
	Theme     int `json:"theme"`
	Intensity int `json:"intensity"`
	Speed     int `json:"speed"`
}

type OrientationParams struct {
	Orientation string `json:"orientation"`
}

type ValueParams struct {
	EntityID string          `json:"entity_id"`
	Value    json.RawMessage `json:"value"`
}

type BackgroundParams struct {
	Orientation string `json:"orientation"`
	Path        string `json:"path"`
}

type FillParams struct {
	Color [3]uint8 `json:"color"`
}

type AddTextResponse struct {
	EntityID string `json:"entity_id"`
}

type StatusResponse struct {
	SerialConnected bool   `json:"serial_connected"`
	USBConnected    bool   `json:"usb_connected"`
	PendingUpdate   bool   `json:"pending_update"`
	Orientation     string `json:"orientation"`
	TextElements    int    `json:"text_elements"`
}

type VersionResponse struct {
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
