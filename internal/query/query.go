// Package query turns request parameters into validated lead and campaign
// queries and computes pagination metadata for the results.
package query

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/internal/store"
)

// Issue is one rejected parameter.
type Issue struct {
	Param   string `json:"path"`
	Message string `json:"message"`
}

// Limits bounds page sizes and campaign listings.
type Limits struct {
	DefaultPageSize   int
	MaxPageSize       int
	CampaignListLimit int
	CampaignListMax   int
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{DefaultPageSize: 20, MaxPageSize: 100, CampaignListLimit: 50, CampaignListMax: 100}
}

// LeadParams is a validated lead page request.
type LeadParams struct {
	Page     int
	PageSize int
	Filter   store.LeadFilter
	Sort     store.SortField
	Desc     bool
}

// Store renders p as a store query.
func (p LeadParams) Store() store.LeadQuery {
	return store.LeadQuery{
		Filter: p.Filter,
		Sort:   p.Sort,
		Desc:   p.Desc,
		Limit:  p.PageSize,
		Offset: (p.Page - 1) * p.PageSize,
	}
}

type issues []Issue

func (is *issues) add(param, format string, args ...any) {
	*is = append(*is, Issue{Param: param, Message: fmt.Sprintf(format, args...)})
}

func (is issues) err() error {
	if len(is) == 0 {
		return nil
	}
	return failure.Validation("Invalid query parameters", []Issue(is))
}

// ParseLeadParams validates page, pageSize, riskLevel, minProbability,
// maxProbability, job, education, marital, contact, sortBy and sortOrder.
// Empty values count as absent; unknown parameters are ignored.
func ParseLeadParams(v url.Values, lim Limits) (LeadParams, error) {
	var bad issues
	p := LeadParams{Page: 1, PageSize: lim.DefaultPageSize, Sort: store.SortProbability, Desc: true}

	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		switch {
		case err != nil:
			bad.add("page", "Expected an integer, received %q", s)
		case n < 1:
			bad.add("page", "Number must be greater than 0")
		default:
			p.Page = n
		}
	}

	if s := v.Get("pageSize"); s != "" {
		n, err := strconv.Atoi(s)
		switch {
		case err != nil:
			bad.add("pageSize", "Expected an integer, received %q", s)
		case n < 1:
			bad.add("pageSize", "Number must be greater than 0")
		case n > lim.MaxPageSize:
			bad.add("pageSize", "Number must be less than or equal to %d", lim.MaxPageSize)
		default:
			p.PageSize = n
		}
	}

	if s := v.Get("riskLevel"); s != "" {
		r, ok := model.ParseRiskLevel(s)
		if !ok {
			bad.add("riskLevel", "Invalid enum value. Expected 'Low' | 'Medium' | 'High', received %q", s)
		}
		p.Filter.RiskLevel = r
	}

	p.Filter.MinProbability = probability(v, "minProbability", &bad)
	p.Filter.MaxProbability = probability(v, "maxProbability", &bad)
	if lo, hi := p.Filter.MinProbability, p.Filter.MaxProbability; lo != nil && hi != nil && *lo > *hi {
		bad.add("minProbability", "minProbability must not exceed maxProbability")
	}

	p.Filter.Job = strings.TrimSpace(v.Get("job"))
	p.Filter.Education = strings.TrimSpace(v.Get("education"))
	p.Filter.Marital = strings.TrimSpace(v.Get("marital"))
	p.Filter.Contact = strings.TrimSpace(v.Get("contact"))

	if s := v.Get("sortBy"); s != "" {
		f, ok := store.ParseSortField(s)
		if !ok {
			bad.add("sortBy", "Invalid enum value. Expected 'probability' | 'age' | 'balance' | 'created_at', received %q", s)
		}
		p.Sort = f
	}

	// Offsets must fit in an int32.
	if maxPage := math.MaxInt32/max(p.PageSize, 1) + 1; p.Page > maxPage {
		bad.add("page", "Number must be less than or equal to %d", maxPage)
		p.Page = 1
	}

	switch s := v.Get("sortOrder"); s {
	case "", "desc":
	case "asc":
		p.Desc = false
	default:
		bad.add("sortOrder", "Invalid enum value. Expected 'asc' | 'desc', received %q", s)
	}

	return p, bad.err()
}

func probability(v url.Values, name string, bad *issues) *float64 {
	s := v.Get(name)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		bad.add(name, "Expected a number, received %q", s)
		return nil
	}
	if f < 0 || f > 1 {
		bad.add(name, "Number must be between 0 and 1")
		return nil
	}
	return &f
}

// ParseCampaignFilter validates limit and createdBy. createdBy must be a
// UUID or equal to cliUser, the identity recorded for CLI ingestion.
func ParseCampaignFilter(v url.Values, lim Limits, cliUser string) (store.CampaignFilter, error) {
	var bad issues
	f := store.CampaignFilter{Limit: lim.CampaignListLimit}

	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		switch {
		case err != nil:
			bad.add("limit", "Expected an integer, received %q", s)
		case n < 1:
			bad.add("limit", "Number must be greater than 0")
		case n > lim.CampaignListMax:
			bad.add("limit", "Number must be less than or equal to %d", lim.CampaignListMax)
		default:
			f.Limit = n
		}
	}

	if s := v.Get("createdBy"); s != "" {
		if _, err := uuid.Parse(s); err != nil && (cliUser == "" || s != cliUser) {
			bad.add("createdBy", "Invalid uuid")
		}
		f.CreatedBy = s
	}

	return f, bad.err()
}

// Pagination describes one page of a result set.
type Pagination struct {
	Page            int  `json:"page" yaml:"page"`
	PageSize        int  `json:"pageSize" yaml:"pageSize"`
	TotalPages      int  `json:"totalPages" yaml:"totalPages"`
	TotalCount      int  `json:"totalCount" yaml:"totalCount"`
	HasNextPage     bool `json:"hasNextPage" yaml:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage" yaml:"hasPreviousPage"`
}

// NewPagination computes page metadata; totalPages is ceil(total/pageSize).
func NewPagination(page, pageSize, total int) Pagination {
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return Pagination{
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      pages,
		TotalCount:      total,
		HasNextPage:     page < pages,
		HasPreviousPage: page > 1,
	}
}

// LeadPage is one page of a campaign's leads.
type LeadPage struct {
	Leads      []model.Lead `json:"data" yaml:"data"`
	Pagination Pagination   `json:"pagination" yaml:"pagination"`
}

// Engine serves filtered, sorted and paginated lead views.
type Engine struct {
	store  store.Store
	limits Limits
}

// NewEngine creates an Engine.
func NewEngine(st store.Store, lim Limits) *Engine {
	return &Engine{store: st, limits: lim}
}

// Limits returns the engine's limits.
func (e *Engine) Limits() Limits {
	return e.limits
}

// Leads validates v and returns the requested page of the campaign's leads.
// An unknown campaign is a not-found failure even when v is also invalid.
func (e *Engine) Leads(ctx context.Context, campaignID string, v url.Values) (*LeadPage, error) {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, failure.NotFound("Campaign not found")
	}

	p, err := ParseLeadParams(v, e.limits)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, campaignID, p)
}

// Run executes already validated params.
func (e *Engine) Run(ctx context.Context, campaignID string, p LeadParams) (*LeadPage, error) {
	leads, total, err := e.store.QueryLeads(ctx, campaignID, p.Store())
	if err != nil {
		return nil, err
	}
	return &LeadPage{Leads: leads, Pagination: NewPagination(p.Page, p.PageSize, total)}, nil
}

// Lead returns one lead or a not-found failure.
func (e *Engine) Lead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := e.store.GetLead(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, failure.NotFound("Lead not found")
	}
	return l, nil
}
