package deviceflow

import (
	"time"

	"github.com/Daveeeu/skyrox-core/services/idp"
)

// DeviceAuthorization is the ephemeral state of one device-flow attempt,
// keyed by user_code. The device_code is never exposed to the end user.
type DeviceAuthorization struct {
	DeviceCode      string    `json:"device_code"`
	UserCode        string    `json:"user_code"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	Interval        int       `json:"interval"`
	OriginIP        string    `json:"origin_ip,omitempty"`
	OriginUserAgent string    `json:"origin_user_agent,omitempty"`
}

// Origin is the request metadata captured at initiation for later audit.
type Origin struct {
	IP        string
	UserAgent string
}

// Grant is what the initiating client needs to drive the user through
// verification.
type Grant struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

type PollStatus string

const (
	StatusPending    PollStatus = "pending"
	StatusSlowDown   PollStatus = "slow_down"
	StatusDenied     PollStatus = "denied"
	StatusExpired    PollStatus = "expired"
	StatusAuthorized PollStatus = "authorized"
)

// PollResult is the typed outcome of one poll. Grant and Authorization are
// set only for StatusAuthorized.
type PollResult struct {
	Status        PollStatus
	Grant         *idp.TokenGrant
	Authorization *DeviceAuthorization
}
