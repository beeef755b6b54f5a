package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CustomerLoginEvent is the inbound wire format on the customer-login topic.
type CustomerLoginEvent struct {
	CustomerID uuid.UUID `json:"customerId"`
	Username   string    `json:"username"`
	Client     string    `json:"client"` // "web" | "android" | "ios", case-insensitive
	Timestamp  time.Time `json:"timestamp"`
	MessageID  uuid.UUID `json:"messageId"`
	CustomerIP string    `json:"customerIp"`
}

const (
	maxUsernameLen   = 100
	maxCustomerIPLen = 45
)

// Validate checks the fields the schema requires. The client value is parsed
// separately; Validate only confirms it is present.
func (e CustomerLoginEvent) Validate() error {
	if e.MessageID == uuid.Nil {
		return fmt.Errorf("messageId is required")
	}
	if e.CustomerID == uuid.Nil {
		return fmt.Errorf("customerId is required")
	}
	if e.Username == "" {
		return fmt.Errorf("username is required")
	}
	if len(e.Username) > maxUsernameLen {
		return fmt.Errorf("username exceeds %d characters", maxUsernameLen)
	}
	if e.Client == "" {
		return fmt.Errorf("client is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if e.CustomerIP == "" {
		return fmt.Errorf("customerIp is required")
	}
	if len(e.CustomerIP) > maxCustomerIPLen {
		return fmt.Errorf("customerIp exceeds %d characters", maxCustomerIPLen)
	}
	return nil
}

// LoginTrackingResultEvent is the outbound wire format, published via the
// outbox keyed by customerId.
type LoginTrackingResultEvent struct {
	CustomerID    uuid.UUID     `json:"customerId"`
	Username      string        `json:"username"`
	Client        string        `json:"client"` // lowercase, matches inbound convention
	Timestamp     time.Time     `json:"timestamp"`
	MessageID     uuid.UUID     `json:"messageId"`
	CustomerIP    string        `json:"customerIp"`
	RequestResult RequestResult `json:"requestResult"`
}

// ResultEventFrom builds the outbound event from a persisted result row.
func ResultEventFrom(r LoginResult) LoginTrackingResultEvent {
	return LoginTrackingResultEvent{
		CustomerID:    r.CustomerID,
		Username:      r.Username,
		Client:        r.Client.Wire(),
		Timestamp:     r.EventTimestamp,
		MessageID:     r.MessageID,
		CustomerIP:    r.CustomerIP,
		RequestResult: r.RequestResult,
	}
}
