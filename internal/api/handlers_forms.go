package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screenpop/internal/model"
	"github.com/sells-group/screenpop/internal/phone"
	"github.com/sells-group/screenpop/pkg/connectwise"
)

const (
	searchMinChars   = 2
	searchLimit      = 10
	defaultPhoneType = "Cell"
)

type companySearchResult struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	City       string `json:"city"`
	State      string `json:"state"`
	Phone      string `json:"phone"`
	Label      string `json:"label"`
}

func (s *Server) handleSearchCompanies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if len([]rune(q)) < searchMinChars {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("q must be at least %d characters", searchMinChars))
		return
	}

	companies, err := s.cw.SearchCompanies(r.Context(), q, searchLimit)
	if err != nil {
		s.upstreamFault(w, r, "search companies", err)
		return
	}
	out := make([]companySearchResult, 0, len(companies))
	for _, c := range companies {
		out = append(out, companySearchResult{
			ID:         c.ID,
			Name:       c.Name,
			Identifier: c.Identifier,
			City:       c.City,
			State:      c.State,
			Phone:      c.PhoneNumber,
			Label:      c.Label(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type contactSummary struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Phones    []string `json:"phones"`
}

func (s *Server) handleCompanyContacts(w http.ResponseWriter, r *http.Request) {
	companyID, ok := pathID(r, "companyID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}

	contacts, err := s.cw.GetCompanyContacts(r.Context(), companyID)
	if err != nil {
		s.upstreamFault(w, r, "company contacts", err)
		return
	}
	out := make([]contactSummary, 0, len(contacts))
	for _, c := range contacts {
		phones := c.Phones()
		if phones == nil {
			phones = []string{}
		}
		out = append(out, contactSummary{
			ID:        c.ID,
			Name:      c.FullName(),
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Phones:    phones,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddPhone(w http.ResponseWriter, r *http.Request) {
	contactID, ok := pathID(r, "contactID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}
	f, ok := formFields(w, r, "phone")
	if !ok {
		return
	}
	phoneType := withDefault(f["phone_type"], defaultPhoneType)

	if err := s.cw.AddPhoneToContact(r.Context(), contactID, f["phone"], phoneType); err != nil {
		s.formFailure(w, r, "add phone", faultStatus(err), eris.Wrap(err, "failed to add phone to contact"))
		return
	}

	contact, err := s.cw.GetContact(r.Context(), contactID)
	switch {
	case err != nil:
		s.log.Warn("add phone: contact not cached", zap.Int64("contact_id", contactID), zap.Error(err))
	case contact.Company == nil || contact.Company.ID == 0:
		s.log.Warn("add phone: contact has no company", zap.Int64("contact_id", contactID))
	default:
		s.cacheNumber(r.Context(), f["phone"], phoneType, contact.Company.ID, contact.Company.Name, contactID, contact.FullName())
	}

	writeJSON(w, http.StatusOK, formResponse{
		Success:   true,
		Message:   fmt.Sprintf("Phone %s added to contact", f["phone"]),
		ContactID: contactID,
	})
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	f, ok := formFields(w, r, "company_id", "first_name", "last_name", "phone")
	if !ok {
		return
	}
	companyID, err := strconv.ParseInt(f["company_id"], 10, 64)
	if err != nil || companyID <= 0 {
		writeJSON(w, http.StatusBadRequest, formResponse{Message: "invalid company_id"})
		return
	}
	phoneType := withDefault(f["phone_type"], defaultPhoneType)

	contactID, err := s.cw.CreateContact(r.Context(), connectwise.NewContact{
		CompanyID: companyID,
		FirstName: f["first_name"],
		LastName:  f["last_name"],
		Phone:     f["phone"],
		PhoneType: phoneType,
		Email:     f["email"],
	})
	if err != nil {
		s.formFailure(w, r, "create contact", faultStatus(err), eris.Wrap(err, "failed to create contact"))
		return
	}

	companyName := "Unknown"
	if company, err := s.cw.GetCompany(r.Context(), companyID); err != nil {
		s.log.Warn("create contact: company name unavailable", zap.Int64("company_id", companyID), zap.Error(err))
	} else if company.Name != "" {
		companyName = company.Name
	}
	s.cacheNumber(r.Context(), f["phone"], phoneType, companyID, companyName, contactID, f["first_name"]+" "+f["last_name"])

	writeJSON(w, http.StatusOK, formResponse{
		Success:   true,
		Message:   "Contact created successfully",
		CompanyID: companyID,
		ContactID: contactID,
	})
}

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	f, ok := formFields(w, r,
		"name", "address", "city", "state", "zip_code", "company_phone",
		"first_name", "last_name", "email", "phone",
	)
	if !ok {
		return
	}

	companyID, contactID, err := s.cw.CreateCompanyAndContact(r.Context(), connectwise.NewCompany{
		Name:         f["name"],
		AddressLine1: f["address"],
		AddressLine2: f["address2"],
		City:         f["city"],
		State:        f["state"],
		Zip:          f["zip_code"],
		CompanyPhone: f["company_phone"],
		Territory:    f["territory"],
		FirstName:    f["first_name"],
		LastName:     f["last_name"],
		Email:        f["email"],
		Phone:        f["phone"],
	})
	if err != nil {
		s.formFailure(w, r, "create company", faultStatus(err), eris.Wrap(err, "failed to create company and contact"))
		return
	}
	s.cacheNumber(r.Context(), f["phone"], defaultPhoneType, companyID, f["name"], contactID, f["first_name"]+" "+f["last_name"])

	writeJSON(w, http.StatusOK, formResponse{
		Success:   true,
		Message:   "Company and contact created successfully",
		CompanyID: companyID,
		ContactID: contactID,
	})
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	f, ok := formFields(w, r, "company_id", "contact_id", "summary", "description", "board", "priority")
	if !ok {
		return
	}
	companyID, err1 := strconv.ParseInt(f["company_id"], 10, 64)
	contactID, err2 := strconv.ParseInt(f["contact_id"], 10, 64)
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, formResponse{Message: "company_id and contact_id must be integers"})
		return
	}

	ticketID, err := s.cw.CreateTicket(r.Context(), connectwise.NewTicket{
		CompanyID:   companyID,
		ContactID:   contactID,
		Summary:     f["summary"],
		Description: f["description"],
		Board:       f["board"],
		Priority:    f["priority"],
		Status:      connectwise.DefaultTicketStatus,
	})
	if err != nil {
		s.formFailure(w, r, "create ticket", faultStatus(err), eris.Wrap(err, "failed to create ticket"))
		return
	}
	writeJSON(w, http.StatusOK, formResponse{
		Success:  true,
		Message:  fmt.Sprintf("Ticket #%d created successfully", ticketID),
		TicketID: ticketID,
	})
}

func (s *Server) handleAssignExtension(w http.ResponseWriter, r *http.Request) {
	f, ok := formFields(w, r, "extension", "first_name", "last_name")
	if !ok {
		return
	}
	if !phone.IsExtension(f["extension"]) {
		writeJSON(w, http.StatusBadRequest, formResponse{Message: "extension must be 4 digits"})
		return
	}

	err := s.store.AssignExtension(r.Context(), model.ExtensionAssignment{
		Extension:        f["extension"],
		FirstName:        f["first_name"],
		LastName:         f["last_name"],
		MemberIdentifier: f["member_identifier"],
	})
	if err != nil {
		s.formFailure(w, r, "assign extension", http.StatusInternalServerError, eris.Wrap(err, "failed to assign extension"))
		return
	}
	s.log.Info("extension assigned",
		zap.String("extension", f["extension"]),
		zap.String("first_name", f["first_name"]),
		zap.String("last_name", f["last_name"]),
	)
	writeJSON(w, http.StatusOK, formResponse{
		Success: true,
		Message: fmt.Sprintf("Extension %s assigned to %s %s", f["extension"], f["first_name"], f["last_name"]),
	})
}

// cacheNumber adds a number created through the forms to the cache so the
// next call from it resolves without waiting for a sync. Failures are logged.
func (s *Server) cacheNumber(ctx context.Context, raw, phoneType string, companyID int64, companyName string, contactID int64, contactName string) {
	normalized := phone.Normalize(raw)
	if !phone.IsDialable(normalized) {
		s.log.Debug("number too short to cache", zap.String("phone", raw))
		return
	}
	ct, ok := model.ParseContactType(phoneType)
	if !ok {
		ct = model.ContactTypeCell
	}
	err := s.store.Upsert(ctx, model.UpsertParams{
		PhoneNumber:     raw,
		NormalizedPhone: normalized,
		CompanyID:       companyID,
		CompanyName:     companyName,
		ContactID:       model.Int64Ptr(contactID),
		ContactName:     contactName,
		ContactType:     ct,
	})
	if err != nil {
		s.log.Error("cache new number", zap.String("normalized", normalized), zap.Error(err))
	}
}
