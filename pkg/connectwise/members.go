package connectwise

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

const memberFields = "id,identifier,firstName,lastName,inactiveFlag"

func (c *httpClient) GetMemberByName(ctx context.Context, firstName, lastName string) (*Member, error) {
	members, err := c.listMembers(ctx, "firstName="+quote(firstName)+" AND lastName="+quote(lastName), 1)
	if err != nil {
		return nil, eris.Wrapf(err, "connectwise: member %s %s", firstName, lastName)
	}
	if len(members) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "member %s %s", firstName, lastName)
	}
	return &members[0], nil
}

func (c *httpClient) GetAllMembers(ctx context.Context) ([]Member, error) {
	members, err := c.listMembers(ctx, "", 1000)
	return members, eris.Wrap(err, "connectwise: all members")
}

func (c *httpClient) listMembers(ctx context.Context, conditions string, limit int) ([]Member, error) {
	q := url.Values{}
	if conditions != "" {
		q.Set("conditions", conditions)
	}
	q.Set("pageSize", strconv.Itoa(limit))
	q.Set("orderBy", "lastName asc")
	q.Set("fields", memberFields)

	body, status, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/system/members",
		query:  q,
		retry:  true,
	})
	if err != nil {
		return nil, err
	}

	var members []Member
	if err := decode("list members", body, status, http.StatusOK, &members); err != nil {
		return nil, err
	}
	return members, nil
}
