package connectwise

import (
	"strings"
	"time"
)

// Reference is ConnectWise's embedded {id, name} object.
type Reference struct {
	ID         int64  `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// CommunicationItem is one phone number or email on a contact.
type CommunicationItem struct {
	ID                int64     `json:"id,omitempty"`
	Type              Reference `json:"type"`
	Value             string    `json:"value"`
	DefaultFlag       bool      `json:"defaultFlag,omitempty"`
	CommunicationType string    `json:"communicationType,omitempty"`
}

// Communication type ids used when creating items.
const (
	TypeEmail  int64 = 1
	TypeCell   int64 = 2
	TypeDirect int64 = 3
	TypePhone  int64 = 4
	TypeFax    int64 = 5
)

// PhoneTypeID maps a phone type name to its communication type id.
// Unknown names fall back to Cell.
func PhoneTypeID(phoneType string) int64 {
	switch phoneType {
	case "Direct":
		return TypeDirect
	case "Phone":
		return TypePhone
	case "Fax":
		return TypeFax
	default:
		return TypeCell
	}
}

func phoneItem(value, phoneType string) CommunicationItem {
	return CommunicationItem{
		Type:              Reference{ID: PhoneTypeID(phoneType)},
		Value:             value,
		CommunicationType: "Phone",
	}
}

func emailItem(value string) CommunicationItem {
	return CommunicationItem{
		Type:              Reference{ID: TypeEmail},
		Value:             value,
		CommunicationType: "Email",
	}
}

// Contact is a ConnectWise company contact.
type Contact struct {
	ID                 int64               `json:"id,omitempty"`
	FirstName          string              `json:"firstName"`
	LastName           string              `json:"lastName"`
	Company            *Reference          `json:"company,omitempty"`
	CommunicationItems []CommunicationItem `json:"communicationItems,omitempty"`
}

// FullName returns "first last" with surrounding space trimmed.
func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Phones returns the values of the contact's phone communication items.
func (c Contact) Phones() []string {
	var out []string
	for _, item := range c.CommunicationItems {
		if item.CommunicationType == "Phone" {
			out = append(out, item.Value)
		}
	}
	return out
}

// Company is a ConnectWise company record.
type Company struct {
	ID             int64       `json:"id,omitempty"`
	Identifier     string      `json:"identifier,omitempty"`
	Name           string      `json:"name"`
	Status         *Reference  `json:"status,omitempty"`
	AddressLine1   string      `json:"addressLine1,omitempty"`
	AddressLine2   string      `json:"addressLine2,omitempty"`
	City           string      `json:"city,omitempty"`
	State          string      `json:"state,omitempty"`
	Zip            string      `json:"zip,omitempty"`
	PhoneNumber    string      `json:"phoneNumber,omitempty"`
	Website        string      `json:"website,omitempty"`
	Territory      *Reference  `json:"territory,omitempty"`
	Site           *Reference  `json:"site,omitempty"`
	Types          []Reference `json:"types,omitempty"`
	DefaultContact *Reference  `json:"defaultContact,omitempty"`
}

// Label formats a company for autocomplete lists: "Name - City, State".
func (c Company) Label() string {
	loc := strings.Trim(c.City+", "+c.State, " ,")
	if loc == "" {
		return c.Name
	}
	return c.Name + " - " + loc
}

// Ticket is a ConnectWise service ticket.
type Ticket struct {
	ID          int64      `json:"id"`
	Summary     string     `json:"summary"`
	Status      *Reference `json:"status,omitempty"`
	Priority    *Reference `json:"priority,omitempty"`
	Board       *Reference `json:"board,omitempty"`
	Contact     *Reference `json:"contact,omitempty"`
	Company     *Reference `json:"company,omitempty"`
	DateEntered *time.Time `json:"dateEntered,omitempty"`
	Resources   string     `json:"resources,omitempty"`
	ClosedFlag  bool       `json:"closedFlag"`
}

// Member is a ConnectWise system member (technician).
type Member struct {
	ID           int64  `json:"id"`
	Identifier   string `json:"identifier"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	InactiveFlag bool   `json:"inactiveFlag"`
}

// FullName returns "first last".
func (m Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// NewContact holds the fields for creating a contact with a phone number.
type NewContact struct {
	CompanyID int64
	FirstName string
	LastName  string
	Phone     string
	PhoneType string
	Email     string
}

// NewCompany holds the fields for creating a company and its first contact.
type NewCompany struct {
	Name         string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	Zip          string
	CompanyPhone string
	Territory    string
	FirstName    string
	LastName     string
	Email        string
	Phone        string
}

// Ticket defaults applied when a NewTicket leaves them empty.
const (
	DefaultTicketPriority = "Priority 3 - Normal Response"
	DefaultTicketStatus   = "New (email)"
)

// NewTicket holds the fields for creating a service ticket. The board's
// default ticket type is used.
type NewTicket struct {
	CompanyID   int64
	ContactID   int64
	Summary     string
	Description string
	Board       string
	Priority    string
	Status      string
}

// Ticket status filters.
const (
	FilterOpen = "open"
	FilterAll  = "all"
)

// patchOp is one RFC 6902 JSON Patch operation.
type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type createdResponse struct {
	ID int64 `json:"id"`
}
