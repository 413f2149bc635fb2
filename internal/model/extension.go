package model

import "time"

// ExtensionAssignment maps an internal 4-digit extension to a technician.
type ExtensionAssignment struct {
	Extension        string    `json:"extension" yaml:"extension"`
	FirstName        string    `json:"first_name" yaml:"first_name"`
	LastName         string    `json:"last_name" yaml:"last_name"`
	MemberIdentifier string    `json:"member_identifier,omitempty" yaml:"member_identifier,omitempty"`
	AssignedDate     time.Time `json:"assigned_date" yaml:"-"`
	UpdatedAt        time.Time `json:"updated_at" yaml:"-"`
}

// PersonName is a first/last name pair used to match ConnectWise members.
type PersonName struct {
	First string `json:"first_name" mapstructure:"first_name" yaml:"first_name"`
	Last  string `json:"last_name" mapstructure:"last_name" yaml:"last_name"`
}

// Full returns "First Last".
func (n PersonName) Full() string {
	switch {
	case n.First == "":
		return n.Last
	case n.Last == "":
		return n.First
	}
	return n.First + " " + n.Last
}
