package connectwise

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

const ticketFields = "id,summary,status,priority,board,contact,company,dateEntered,resources,closedFlag"

// statusCondition turns a status filter into a conditions clause: "open"
// means not closed, "all" adds nothing, anything else is a status name.
func statusCondition(filter string) string {
	switch filter {
	case FilterOpen, "":
		return " AND closedFlag=false"
	case FilterAll:
		return ""
	default:
		return " AND status/name=" + quote(filter)
	}
}

func (c *httpClient) GetCompanyTickets(ctx context.Context, companyID int64, filter string, limit int) ([]Ticket, error) {
	cond := "company/id=" + strconv.FormatInt(companyID, 10) + statusCondition(filter)
	tickets, err := c.listTickets(ctx, cond, limit)
	return tickets, eris.Wrapf(err, "connectwise: company %d tickets", companyID)
}

func (c *httpClient) GetMemberTickets(ctx context.Context, identifier, filter string, limit int) ([]Ticket, error) {
	cond := "resources like " + quote("%"+identifier+"%") + statusCondition(filter)
	tickets, err := c.listTickets(ctx, cond, limit)
	return tickets, eris.Wrapf(err, "connectwise: member %s tickets", identifier)
}

func (c *httpClient) listTickets(ctx context.Context, conditions string, limit int) ([]Ticket, error) {
	q := url.Values{}
	q.Set("conditions", conditions)
	q.Set("pageSize", strconv.Itoa(limit))
	q.Set("orderBy", "id desc")
	q.Set("fields", ticketFields)

	body, status, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/service/tickets",
		query:  q,
		retry:  true,
	})
	if err != nil {
		return nil, err
	}

	var tickets []Ticket
	if err := decode("list tickets", body, status, http.StatusOK, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

type ticketBody struct {
	Summary            string    `json:"summary"`
	Board              Reference `json:"board"`
	Company            Reference `json:"company"`
	Contact            Reference `json:"contact"`
	Priority           Reference `json:"priority"`
	Status             Reference `json:"status"`
	InitialDescription string    `json:"initialDescription"`
}

func (c *httpClient) CreateTicket(ctx context.Context, in NewTicket) (int64, error) {
	priority := in.Priority
	if priority == "" {
		priority = DefaultTicketPriority
	}
	statusName := in.Status
	if statusName == "" {
		statusName = DefaultTicketStatus
	}

	body, status, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/service/tickets",
		body: ticketBody{
			Summary:            in.Summary,
			Board:              Reference{Name: in.Board},
			Company:            Reference{ID: in.CompanyID},
			Contact:            Reference{ID: in.ContactID},
			Priority:           Reference{Name: priority},
			Status:             Reference{Name: statusName},
			InitialDescription: in.Description,
		},
	})
	if err != nil {
		return 0, eris.Wrap(err, "connectwise: create ticket")
	}

	var created createdResponse
	if err := decode("create ticket", body, status, http.StatusCreated, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}
