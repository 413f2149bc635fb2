// Package screenpop turns an inbound caller number into a routing decision.
package screenpop

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screenpop/internal/model"
	"github.com/sells-group/screenpop/internal/phone"
)

// Lookup is the cache read the resolver needs.
type Lookup interface {
	Lookup(ctx context.Context, normalized string) ([]model.CacheRecord, error)
}

// Decision kinds.
const (
	KindMiss                  = "miss"
	KindSingleMatch           = "single_match"
	KindSameCompanyMultiMatch = "same_company_multi_match"
	KindMultiCompanyMatch     = "multi_company_match"
)

// Decision is the outcome of resolving a caller number.
type Decision interface {
	Kind() string
	Number() Caller
}

// Caller is the number as dialed and as looked up.
type Caller struct {
	Phone      string `json:"phone"`
	Normalized string `json:"normalized"`
}

// Miss means no cached record matched.
type Miss struct {
	Caller
}

// SingleMatch means exactly one record matched; the caller goes straight to
// its company.
type SingleMatch struct {
	Caller
	Record model.CacheRecord `json:"record"`
}

// SameCompanyMultiMatch means several contacts at one company share the number.
type SameCompanyMultiMatch struct {
	Caller
	CompanyID   int64               `json:"company_id"`
	CompanyName string              `json:"company_name"`
	Records     []model.CacheRecord `json:"records"`
}

// MultiCompanyMatch means the number belongs to more than one company.
type MultiCompanyMatch struct {
	Caller
	Companies []CompanyGroup `json:"companies"`
}

// CompanyGroup is the matches for one company, in lookup order.
type CompanyGroup struct {
	CompanyID   int64               `json:"company_id"`
	CompanyName string              `json:"company_name"`
	Records     []model.CacheRecord `json:"records"`
}

func (Miss) Kind() string                  { return KindMiss }
func (SingleMatch) Kind() string           { return KindSingleMatch }
func (SameCompanyMultiMatch) Kind() string { return KindSameCompanyMultiMatch }
func (MultiCompanyMatch) Kind() string     { return KindMultiCompanyMatch }

// Number returns the caller the decision was made for.
func (c Caller) Number() Caller { return c }

// Resolve normalizes raw and classifies the cached matches.
func Resolve(ctx context.Context, l Lookup, raw string) (Decision, error) {
	caller := Caller{Phone: raw, Normalized: phone.Normalize(raw)}
	records, err := lookup(ctx, l, caller)
	if err != nil {
		return nil, err
	}
	return decide(caller, records), nil
}

// ResolveCompany narrows the matches for raw to one company. It never
// returns a MultiCompanyMatch.
func ResolveCompany(ctx context.Context, l Lookup, raw string, companyID int64) (Decision, error) {
	caller := Caller{Phone: raw, Normalized: phone.Normalize(raw)}
	records, err := lookup(ctx, l, caller)
	if err != nil {
		return nil, err
	}

	var matched []model.CacheRecord
	for _, r := range records {
		if r.CompanyID == companyID {
			matched = append(matched, r)
		}
	}
	return decide(caller, matched), nil
}

func lookup(ctx context.Context, l Lookup, caller Caller) ([]model.CacheRecord, error) {
	if caller.Normalized == "" {
		return nil, nil
	}
	records, err := l.Lookup(ctx, caller.Normalized)
	if err != nil {
		return nil, &StorageError{Err: eris.Wrapf(err, "screenpop: lookup %s", caller.Normalized)}
	}
	return records, nil
}

func decide(caller Caller, records []model.CacheRecord) Decision {
	switch len(records) {
	case 0:
		return Miss{Caller: caller}
	case 1:
		return SingleMatch{Caller: caller, Record: records[0]}
	}

	groups := GroupByCompany(records)
	if len(groups) == 1 {
		return SameCompanyMultiMatch{
			Caller:      caller,
			CompanyID:   groups[0].CompanyID,
			CompanyName: groups[0].CompanyName,
			Records:     groups[0].Records,
		}
	}
	return MultiCompanyMatch{Caller: caller, Companies: groups}
}

// StorageError marks a fault from the local store, as opposed to ConnectWise.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// GroupByCompany groups records by company id in order of first appearance.
// A group's name is taken from its first record.
func GroupByCompany(records []model.CacheRecord) []CompanyGroup {
	index := make(map[int64]int)
	var groups []CompanyGroup
	for _, r := range records {
		i, ok := index[r.CompanyID]
		if !ok {
			i = len(groups)
			index[r.CompanyID] = i
			groups = append(groups, CompanyGroup{CompanyID: r.CompanyID, CompanyName: r.CompanyName})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	return groups
}
