package screenpop

import (
	"context"
	"errors"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screenpop/internal/model"
	"github.com/sells-group/screenpop/pkg/connectwise"
)

// Assignments is the database side of the extension directory.
type Assignments interface {
	GetExtension(ctx context.Context, extension string) (*model.ExtensionAssignment, error)
	AssignedNames(ctx context.Context) (map[model.PersonName]bool, error)
}

// Members finds ConnectWise technicians.
type Members interface {
	GetMemberByName(ctx context.Context, firstName, lastName string) (*connectwise.Member, error)
	GetAllMembers(ctx context.Context) ([]connectwise.Member, error)
}

// Where an extension's owner was found.
const (
	SourceDatabase = "database"
	SourceStatic   = "static"
)

// Directory routes internal 4-digit extensions to technicians.
type Directory struct {
	assignments Assignments
	members     Members
	static      map[string]model.PersonName
	overrides   map[string]model.PersonName
	log         *zap.Logger
}

// NewDirectory creates a Directory. static maps extensions to technician
// names; overrides maps extensions to the name ConnectWise knows them by.
func NewDirectory(assignments Assignments, members Members, static, overrides map[string]model.PersonName) *Directory {
	return &Directory{
		assignments: assignments,
		members:     members,
		static:      static,
		overrides:   overrides,
		log:         zap.L().With(zap.String("component", "directory")),
	}
}

// Route is the result of routing an extension. Member is nil when the
// extension is unknown or its owner has no ConnectWise member; Unassigned
// then lists the technicians the extension could be given to.
type Route struct {
	Extension  string               `json:"extension"`
	Name       *model.PersonName    `json:"searched_name,omitempty"`
	Source     string               `json:"source,omitempty"`
	Member     *connectwise.Member  `json:"member,omitempty"`
	Unassigned []connectwise.Member `json:"unassigned_technicians,omitempty"`
}

// Found reports whether the extension resolved to a member.
func (r *Route) Found() bool { return r.Member != nil }

// RedirectURL is the technician view for a found route.
func (r *Route) RedirectURL() string {
	if r.Member == nil {
		return ""
	}
	v := url.Values{}
	v.Set("name", r.Name.Full())
	return "/technician/" + url.PathEscape(r.Member.Identifier) + "?" + v.Encode()
}

// Route resolves extension through the database assignments, then the static
// map, and looks up the owner in ConnectWise.
func (d *Directory) Route(ctx context.Context, extension string) (*Route, error) {
	route := &Route{Extension: extension}

	name, source, err := d.owner(ctx, extension)
	if err != nil {
		return nil, err
	}
	if name == nil {
		d.log.Info("unknown extension", zap.String("extension", extension))
		return d.unassigned(ctx, route)
	}
	route.Name = name
	route.Source = source

	lookupName := *name
	if o, ok := d.overrides[extension]; ok {
		lookupName = o
	}

	member, err := d.members.GetMemberByName(ctx, lookupName.First, lookupName.Last)
	switch {
	case errors.Is(err, connectwise.ErrNotFound):
		d.log.Info("extension owner not in connectwise",
			zap.String("extension", extension),
			zap.String("name", lookupName.Full()),
		)
		return d.unassigned(ctx, route)
	case err != nil:
		return nil, eris.Wrapf(err, "screenpop: member for extension %s", extension)
	}

	route.Member = member
	return route, nil
}

func (d *Directory) owner(ctx context.Context, extension string) (*model.PersonName, string, error) {
	a, err := d.assignments.GetExtension(ctx, extension)
	if err != nil {
		return nil, "", &StorageError{Err: eris.Wrapf(err, "screenpop: extension %s", extension)}
	}
	if a != nil {
		return &model.PersonName{First: a.FirstName, Last: a.LastName}, SourceDatabase, nil
	}
	if n, ok := d.static[extension]; ok {
		return &n, SourceStatic, nil
	}
	return nil, "", nil
}

func (d *Directory) unassigned(ctx context.Context, route *Route) (*Route, error) {
	techs, err := d.Unassigned(ctx)
	if err != nil {
		return nil, err
	}
	route.Unassigned = techs
	return route, nil
}

// Unassigned returns active members with both names set who own no
// extension in either the database or the static map.
func (d *Directory) Unassigned(ctx context.Context) ([]connectwise.Member, error) {
	members, err := d.members.GetAllMembers(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "screenpop: list members")
	}
	assigned, err := d.assignments.AssignedNames(ctx)
	if err != nil {
		return nil, &StorageError{Err: eris.Wrap(err, "screenpop: assigned names")}
	}
	if assigned == nil {
		assigned = make(map[model.PersonName]bool, len(d.static))
	}
	for _, n := range d.static {
		assigned[n] = true
	}

	out := make([]connectwise.Member, 0, len(members))
	for _, m := range members {
		if m.InactiveFlag || m.FirstName == "" || m.LastName == "" {
			continue
		}
		if assigned[model.PersonName{First: m.FirstName, Last: m.LastName}] {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
