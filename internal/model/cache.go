package model

import "time"

// ContactType is the ConnectWise communication type a cached number came from.
type ContactType string

const (
	ContactTypeCell   ContactType = "Cell"
	ContactTypeDirect ContactType = "Direct"
	ContactTypeMobile ContactType = "Mobile"
	ContactTypePhone  ContactType = "Phone"
	ContactTypeFax    ContactType = "Fax"
)

// PhoneContactTypes lists the communication types that carry phone numbers.
// Email and any other type are never cached.
var PhoneContactTypes = []ContactType{
	ContactTypeDirect,
	ContactTypeCell,
	ContactTypeFax,
	ContactTypePhone,
	ContactTypeMobile,
}

// ParseContactType returns the phone contact type named s, if it is one.
func ParseContactType(s string) (ContactType, bool) {
	for _, ct := range PhoneContactTypes {
		if string(ct) == s {
			return ct, true
		}
	}
	return "", false
}

// CacheRecord maps one normalized phone number to a company and, optionally, a contact.
// (NormalizedPhone, CompanyID, ContactID) is unique; a nil ContactID is its own key.
type CacheRecord struct {
	PhoneNumber     string      `json:"phone_number"`
	NormalizedPhone string      `json:"normalized_phone"`
	CompanyID       int64       `json:"company_id"`
	CompanyName     string      `json:"company_name"`
	ContactID       *int64      `json:"contact_id,omitempty"`
	ContactName     string      `json:"contact_name,omitempty"`
	ContactType     ContactType `json:"contact_type,omitempty"`
	LastUpdated     time.Time   `json:"last_updated"`
	CreatedAt       time.Time   `json:"created_at"`
}

// SameContact reports whether r belongs to the given company/contact pair.
func (r CacheRecord) SameContact(companyID int64, contactID *int64) bool {
	if r.CompanyID != companyID {
		return false
	}
	if r.ContactID == nil || contactID == nil {
		return r.ContactID == nil && contactID == nil
	}
	return *r.ContactID == *contactID
}

// UpsertParams carries the fields written by a cache upsert.
type UpsertParams struct {
	PhoneNumber     string
	NormalizedPhone string
	CompanyID       int64
	CompanyName     string
	ContactID       *int64
	ContactName     string
	ContactType     ContactType
}

// CacheStats summarizes the phone cache for health and status reporting.
type CacheStats struct {
	UniquePhones int64      `json:"unique_phones"`
	TotalRecords int64      `json:"total_records"`
	OldestRecord *time.Time `json:"oldest_record"`
	NewestRecord *time.Time `json:"newest_record"`
	LastSync     *LastSync  `json:"last_sync"`
}

// LastSync is the reporting view of the most recent sync run.
type LastSync struct {
	Type      SyncType   `json:"type"`
	Completed *time.Time `json:"completed"`
	Added     int        `json:"added"`
	Updated   int        `json:"updated"`
	Status    SyncStatus `json:"status"`
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }
