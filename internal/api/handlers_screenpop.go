package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/screenpop/internal/phone"
	"github.com/sells-group/screenpop/internal/screenpop"
	"github.com/sells-group/screenpop/pkg/connectwise"
)

// Ticket list sizes for the company and technician views.
const (
	companyTicketLimit    = 25
	technicianTicketLimit = 50
)

// decisionResponse is the body for a miss or a disambiguation step.
type decisionResponse struct {
	Kind     string              `json:"kind"`
	Message  string              `json:"message,omitempty"`
	Decision screenpop.Decision  `json:"decision"`
	Choices  []companyChoice     `json:"choices,omitempty"`
	Contacts []contactSelectLink `json:"contacts,omitempty"`
}

// companyChoice links one company of a multi-company match to the second step.
type companyChoice struct {
	CompanyID   int64  `json:"company_id"`
	CompanyName string `json:"company_name"`
	Matches     int    `json:"matches"`
	SelectURL   string `json:"select_url"`
}

// contactSelectLink links one contact of a same-company match to its company view.
type contactSelectLink struct {
	ContactID   *int64 `json:"contact_id,omitempty"`
	ContactName string `json:"contact_name"`
	ContactType string `json:"contact_type,omitempty"`
	CompanyURL  string `json:"company_url"`
}

func companyURL(id int64) string {
	return "/company/" + strconv.FormatInt(id, 10)
}

func callerNumber(r *http.Request) string {
	q := r.URL.Query()
	if v := q.Get("phone"); v != "" {
		return v
	}
	return q.Get("CallerNumber")
}

func (s *Server) handleScreenpop(w http.ResponseWriter, r *http.Request) {
	raw := callerNumber(r)
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "missing phone number",
			Hint:  "Ensure your 8x8 URL includes ?phone=%%CallerNumber%%",
		})
		return
	}
	log := s.log.With(zap.String("caller", raw), zap.String("request_id", RequestID(r.Context())))

	if phone.IsExtension(raw) {
		s.routeExtension(w, r, raw)
		return
	}

	d, err := screenpop.Resolve(r.Context(), s.store, raw)
	if err != nil {
		s.storageFault(w, r, "screenpop lookup", err)
		return
	}
	log.Info("screenpop resolved", zap.String("kind", d.Kind()))
	s.writeDecision(w, r, d)
}

func (s *Server) routeExtension(w http.ResponseWriter, r *http.Request, extension string) {
	route, err := s.directory.Route(r.Context(), extension)
	if err != nil {
		s.upstreamFault(w, r, "route extension", err)
		return
	}
	if route.Found() {
		http.Redirect(w, r, route.RedirectURL(), http.StatusFound)
		return
	}

	msg := fmt.Sprintf("extension %s is not assigned", extension)
	if route.Name != nil {
		msg = fmt.Sprintf("no ConnectWise member found for %s (extension %s)", route.Name.Full(), extension)
	}
	if route.Unassigned == nil {
		route.Unassigned = []connectwise.Member{}
	}
	writeJSON(w, http.StatusNotFound, struct {
		Error string `json:"error"`
		*screenpop.Route
		AssignURL string `json:"assign_url"`
	}{Error: msg, Route: route, AssignURL: "/api/extensions/assign"})
}

func (s *Server) handleSelectCompany(w http.ResponseWriter, r *http.Request) {
	companyID, ok := pathID(r, "companyID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	raw := r.URL.Query().Get("phone")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	d, err := screenpop.ResolveCompany(r.Context(), s.store, raw, companyID)
	if err != nil {
		s.storageFault(w, r, "select company lookup", err)
		return
	}
	s.writeDecision(w, r, d)
}

// writeDecision redirects a single match and describes everything else.
func (s *Server) writeDecision(w http.ResponseWriter, r *http.Request, d screenpop.Decision) {
	resp := decisionResponse{Kind: d.Kind(), Decision: d}

	switch d := d.(type) {
	case screenpop.SingleMatch:
		http.Redirect(w, r, companyURL(d.Record.CompanyID), http.StatusFound)
		return
	case screenpop.Miss:
		resp.Message = "No cached contact for " + d.Phone + ". Create a contact or company for this caller."
		writeJSON(w, http.StatusNotFound, resp)
		return
	case screenpop.SameCompanyMultiMatch:
		for _, rec := range d.Records {
			resp.Contacts = append(resp.Contacts, contactSelectLink{
				ContactID:   rec.ContactID,
				ContactName: rec.ContactName,
				ContactType: string(rec.ContactType),
				CompanyURL:  companyURL(rec.CompanyID),
			})
		}
	case screenpop.MultiCompanyMatch:
		q := url.Values{}
		q.Set("phone", d.Phone)
		for _, g := range d.Companies {
			resp.Choices = append(resp.Choices, companyChoice{
				CompanyID:   g.CompanyID,
				CompanyName: g.CompanyName,
				Matches:     len(g.Records),
				SelectURL:   "/select-company/" + strconv.FormatInt(g.CompanyID, 10) + "?" + q.Encode(),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ticketView is a ticket with its Nilear link.
type ticketView struct {
	connectwise.Ticket
	NilearURL string `json:"nilear_url"`
}

func (s *Server) ticketViews(tickets []connectwise.Ticket) []ticketView {
	out := make([]ticketView, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, ticketView{
			Ticket:    t,
			NilearURL: fmt.Sprintf("%s/%d", s.opts.NilearTicketURL, t.ID),
		})
	}
	return out
}

type companyResponse struct {
	Company   *connectwise.Company  `json:"company"`
	Contacts  []connectwise.Contact `json:"contacts"`
	Tickets   []ticketView          `json:"tickets"`
	NilearURL string                `json:"nilear_url"`
}

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	companyID, ok := pathID(r, "companyID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}

	var (
		company  *connectwise.Company
		contacts []connectwise.Contact
		tickets  []connectwise.Ticket
	)
	g, gctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		company, err = s.cw.GetCompany(gctx, companyID)
		return err
	})
	g.Go(func() error {
		var err error
		contacts, err = s.cw.GetCompanyContacts(gctx, companyID)
		return err
	})
	g.Go(func() error {
		var err error
		tickets, err = s.cw.GetCompanyTickets(gctx, companyID, connectwise.FilterOpen, companyTicketLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, connectwise.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("company %d not found", companyID))
			return
		}
		s.upstreamFault(w, r, "company view", err)
		return
	}

	if contacts == nil {
		contacts = []connectwise.Contact{}
	}
	writeJSON(w, http.StatusOK, companyResponse{
		Company:   company,
		Contacts:  contacts,
		Tickets:   s.ticketViews(tickets),
		NilearURL: s.opts.NilearTicketURL,
	})
}

func (s *Server) handleTechnician(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	tickets, err := s.cw.GetMemberTickets(r.Context(), identifier, connectwise.FilterOpen, technicianTicketLimit)
	if err != nil {
		s.upstreamFault(w, r, "technician tickets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identifier": identifier,
		"name":       name,
		"tickets":    s.ticketViews(tickets),
		"nilear_url": s.opts.NilearTicketURL,
	})
}
