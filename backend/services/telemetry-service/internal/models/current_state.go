package models

import "time"

// CurrentState is the latest accepted reading of a device.
type CurrentState struct {
	Reading
	LastUpdated time.Time `json:"last_updated"`
}
