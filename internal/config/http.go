package config

const (
	HCType = "Content-Type"

	CTypeJSON = "application/json"
)

const (
	HTTPErrMethodNotAllowed = "Method not allowed"
)

// Provider push-notification headers (Drive watch channel semantics).
const (
	HResourceState     = "X-Goog-Resource-State"
	HResourceID        = "X-Goog-Resource-Id"
	HChannelID         = "X-Goog-Channel-Id"
	HChannelExpiration = "X-Goog-Channel-Expiration"
)
