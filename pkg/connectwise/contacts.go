package connectwise

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const contactFields = "id,firstName,lastName,company,communicationItems"

func (c *httpClient) ListContacts(ctx context.Context, page, pageSize int) ([]Contact, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("orderBy", "id desc")
	q.Set("fields", contactFields)

	body, status, err := c.do(ctx, request{
		method:  http.MethodGet,
		path:    "/company/contacts",
		query:   q,
		timeout: c.syncTimeout,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "connectwise: list contacts page %d", page)
	}

	var contacts []Contact
	if err := decode("list contacts page "+strconv.Itoa(page), body, status, http.StatusOK, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *httpClient) GetContact(ctx context.Context, id int64) (*Contact, error) {
	body, status, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/company/contacts/" + strconv.FormatInt(id, 10),
		retry:  true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "connectwise: get contact %d", id)
	}

	var contact Contact
	if err := decode("get contact "+strconv.FormatInt(id, 10), body, status, http.StatusOK, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

func (c *httpClient) AddPhoneToContact(ctx context.Context, contactID int64, phone, phoneType string) error {
	contact, err := c.GetContact(ctx, contactID)
	if err != nil {
		return err
	}

	for _, item := range contact.CommunicationItems {
		if item.Value == phone {
			c.log.Debug("phone already on contact",
				zap.Int64("contact_id", contactID),
				zap.String("phone", phone),
			)
			return nil
		}
	}

	items := append(contact.CommunicationItems, phoneItem(phone, phoneType))
	body, status, err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   "/company/contacts/" + strconv.FormatInt(contactID, 10),
		body:   []patchOp{{Op: "replace", Path: "communicationItems", Value: items}},
	})
	if err != nil {
		return eris.Wrapf(err, "connectwise: add phone to contact %d", contactID)
	}
	return decode("add phone to contact "+strconv.FormatInt(contactID, 10), body, status, http.StatusOK, nil)
}

func (c *httpClient) CreateContact(ctx context.Context, in NewContact) (int64, error) {
	items := []CommunicationItem{phoneItem(in.Phone, in.PhoneType)}
	if in.Email != "" {
		items = append(items, emailItem(in.Email))
	}
	return c.createContact(ctx, Contact{
		FirstName:          in.FirstName,
		LastName:           in.LastName,
		Company:            &Reference{ID: in.CompanyID},
		CommunicationItems: items,
	})
}

func (c *httpClient) createContact(ctx context.Context, contact Contact) (int64, error) {
	body, status, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/company/contacts",
		body:   contact,
	})
	if err != nil {
		return 0, eris.Wrap(err, "connectwise: create contact")
	}

	var created createdResponse
	if err := decode("create contact", body, status, http.StatusCreated, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}
