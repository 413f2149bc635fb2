package connectwise

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

func (c *httpClient) SearchCompanies(ctx context.Context, query string, limit int) ([]Company, error) {
	q := url.Values{}
	q.Set("conditions", "name like "+quote("%"+query+"%"))
	q.Set("pageSize", strconv.Itoa(limit))
	q.Set("orderBy", "name asc")
	q.Set("fields", "id,name,identifier,city,state,phoneNumber,status")

	body, status, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/company/companies",
		query:  q,
		retry:  true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "connectwise: search companies %q", query)
	}

	var companies []Company
	if err := decode("search companies", body, status, http.StatusOK, &companies); err != nil {
		return nil, err
	}
	return companies, nil
}

func (c *httpClient) GetCompany(ctx context.Context, id int64) (*Company, error) {
	body, status, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/company/companies/" + strconv.FormatInt(id, 10),
		retry:  true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "connectwise: get company %d", id)
	}

	var company Company
	if err := decode("get company "+strconv.FormatInt(id, 10), body, status, http.StatusOK, &company); err != nil {
		return nil, err
	}
	return &company, nil
}

func (c *httpClient) GetCompanyContacts(ctx context.Context, companyID int64) ([]Contact, error) {
	q := url.Values{}
	q.Set("conditions", "company/id="+strconv.FormatInt(companyID, 10))
	q.Set("pageSize", "100")
	q.Set("orderBy", "lastName asc")
	q.Set("fields", "id,firstName,lastName,communicationItems")

	body, status, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/company/contacts",
		query:  q,
		retry:  true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "connectwise: company %d contacts", companyID)
	}

	var contacts []Contact
	if err := decode("company contacts", body, status, http.StatusOK, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *httpClient) CreateCompanyAndContact(ctx context.Context, in NewCompany) (int64, int64, error) {
	territory := in.Territory
	if territory == "" {
		territory = "Main"
	}
	identifier := CompanyIdentifier(in.Name)
	log := c.log.With(zap.String("company", in.Name), zap.String("identifier", identifier))

	body, status, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/company/companies",
		body: Company{
			Identifier:   identifier,
			Name:         in.Name,
			AddressLine1: in.AddressLine1,
			AddressLine2: in.AddressLine2,
			City:         in.City,
			State:        in.State,
			Zip:          in.Zip,
			PhoneNumber:  in.CompanyPhone,
			Territory:    &Reference{Name: territory},
			Site:         &Reference{Name: "Main Office"},
			// Type 1 is Client; ConnectWise rejects companies without a type.
			Types: []Reference{{ID: 1}},
		},
	})
	if err != nil {
		return 0, 0, eris.Wrapf(err, "connectwise: create company %q", in.Name)
	}
	var created createdResponse
	if err := decode("create company", body, status, http.StatusCreated, &created); err != nil {
		return 0, 0, err
	}
	companyID := created.ID
	log = log.With(zap.Int64("company_id", companyID))

	if err := c.ActivateCompanyFinance(ctx, companyID); err != nil {
		log.Warn("finance activation failed", zap.Error(err))
	}

	contactID, err := c.createContact(ctx, Contact{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Company:   &Reference{ID: companyID},
		CommunicationItems: []CommunicationItem{
			emailItem(in.Email),
			phoneItem(in.Phone, "Cell"),
		},
	})
	if err != nil {
		return companyID, 0, eris.Wrapf(err, "connectwise: first contact for company %d", companyID)
	}

	body, status, err = c.do(ctx, request{
		method: http.MethodPatch,
		path:   "/company/companies/" + strconv.FormatInt(companyID, 10),
		body:   []patchOp{{Op: "replace", Path: "defaultContact", Value: Reference{ID: contactID}}},
	})
	if err == nil {
		err = decode("set default contact", body, status, http.StatusOK, nil)
	}
	if err != nil {
		log.Warn("setting default contact failed", zap.Int64("contact_id", contactID), zap.Error(err))
	}

	return companyID, contactID, nil
}

type companyFinance struct {
	Company       Reference `json:"company"`
	AccountNumber string    `json:"accountNumber"`
	BillingTerms  Reference `json:"billingTerms"`
	TaxCode       Reference `json:"taxCode"`
}

func (c *httpClient) ActivateCompanyFinance(ctx context.Context, companyID int64) error {
	q := url.Values{}
	q.Set("conditions", "company/id="+strconv.FormatInt(companyID, 10))
	q.Set("pageSize", "1")

	body, status, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/finance/companyFinance",
		query:  q,
		retry:  true,
	})
	if err != nil {
		return eris.Wrapf(err, "connectwise: check finance for company %d", companyID)
	}
	var existing []companyFinance
	if status == http.StatusOK {
		if err := decode("check finance", body, status, http.StatusOK, &existing); err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
	}

	body, status, err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/finance/companyFinance",
		body: companyFinance{
			Company:       Reference{ID: companyID},
			AccountNumber: fmt.Sprintf("C%06d", companyID),
			BillingTerms:  Reference{ID: 2},
			TaxCode:       Reference{ID: 1},
		},
	})
	if err != nil {
		return eris.Wrapf(err, "connectwise: activate finance for company %d", companyID)
	}
	return decode("activate finance", body, status, http.StatusCreated, nil)
}
