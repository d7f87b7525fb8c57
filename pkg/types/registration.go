package types

import (
	"fmt"
	"time"
)

// RegistrationStatus is where a device registration is in its review.
type RegistrationStatus string

const (
	RegistrationPending  RegistrationStatus = "pending"
	RegistrationApproved RegistrationStatus = "approved"
	RegistrationRejected RegistrationStatus = "rejected"
	RegistrationRemoved  RegistrationStatus = "removed"

	// RegistrationApproving is held while the device is being added to Home
	// Assistant.
	RegistrationApproving RegistrationStatus = "approving"
)

// ParseRegistrationStatus validates a status string. Empty is allowed and
// means any status.
func ParseRegistrationStatus(s string) (RegistrationStatus, error) {
	switch st := RegistrationStatus(s); st {
	case "", RegistrationPending, RegistrationApproving, RegistrationApproved, RegistrationRejected, RegistrationRemoved:
		return st, nil
	default:
		return "", fmt.Errorf("invalid registration status: %s", s)
	}
}

// Registration is a request to add an inverter to the Home Assistant
// integration.
type Registration struct {
	ID        string             `json:"id"`
	DeviceID  string             `json:"deviceId"`
	Name      string             `json:"name"`
	Contact   string             `json:"contact"`
	Status    RegistrationStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`

	// EntryID is the Home Assistant config entry created on approval.
	EntryID    string `json:"entryId,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ReviewedBy string `json:"reviewedBy,omitempty"`
	ClientIP   string `json:"-"`
}

// Active reports whether the registration still holds its device id.
func (r Registration) Active() bool {
	return r.Status == RegistrationPending || r.Status == RegistrationApproving || r.Status == RegistrationApproved
}

// Public strips what the submitter's status lookup should not reveal.
func (r Registration) Public() RegistrationView {
	return RegistrationView{
		ID:        r.ID,
		DeviceID:  r.DeviceID,
		Status:    r.Status,
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// RegistrationView is the public part of a Registration.
type RegistrationView struct {
	ID        string             `json:"id"`
	DeviceID  string             `json:"deviceId"`
	Status    RegistrationStatus `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
