package audit

import (
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/eventlog"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/permissions"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

// QueryRequest carries the caller-supplied filters and result shaping.
type QueryRequest struct {
	Filter types.AuditQueryFilter `json:"filter"`
	// LatestOnly returns only the single most recent matching event.
	LatestOnly bool `json:"latest_only,omitempty"`
	// MaxNum truncates the oldest-first result; 0 means no limit.
	MaxNum int `json:"max_num,omitempty"`
}

// QueryService is the read path over the event log. The caller's
// current permission scope is applied as a mandatory filter before the
// caller's own filters; an out-of-scope query returns an empty result,
// not an error.
type QueryService struct {
	events   *eventlog.Log
	registry *permissions.Registry
	logger   *logger.Logger
}

// NewQueryService creates the audit query service.
func NewQueryService(events *eventlog.Log, registry *permissions.Registry, log *logger.Logger) *QueryService {
	return &QueryService{
		events:   events,
		registry: registry,
		logger:   log,
	}
}

// Query resolves the actor's scope, intersects the caller filters over
// the event log, and returns matching events ordered by their original
// append sequence, oldest first. MaxNum counts from the start of that
// order; LatestOnly returns the single most recent match. Visibility
// is a property of the grants held now, so a revoked grant hides even
// events that predate the revocation.
func (q *QueryService) Query(actor types.Actor, req QueryRequest) []*types.AuditEvent {
	scope := q.registry.AuditScope(actor.ID)
	if len(scope) == 0 {
		return []*types.AuditEvent{}
	}

	// A service filter outside the actor's scope yields nothing.
	if req.Filter.ServiceID != "" && !scope[req.Filter.ServiceID] {
		return []*types.AuditEvent{}
	}

	matched := q.events.Query(req.Filter)

	scoped := make([]*types.AuditEvent, 0, len(matched))
	for _, event := range matched {
		if scope[event.ServiceID] {
			scoped = append(scoped, event)
		}
	}

	if req.LatestOnly {
		if len(scoped) == 0 {
			return scoped
		}
		return scoped[len(scoped)-1:]
	}

	if req.MaxNum > 0 && len(scoped) > req.MaxNum {
		scoped = scoped[:req.MaxNum]
	}
	return scoped
}
