package eventlog

import (
	"sync"
	"time"

	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

// Index dimension names
const (
	dimService            = "service_id"
	dimDatatype           = "datatype_id"
	dimPatient            = "patient_id"
	dimContract           = "contract_id"
	dimContractOrg        = "contract_org_id"
	dimConsentOwnerTarget = "consent_owner_target_id"
)

// Sink receives every appended event, e.g. for durable archival. Sinks
// are invoked synchronously after the event is committed to the log;
// a sink failure never fails the append.
type Sink interface {
	Archive(event *types.AuditEvent) error
}

// Log is an append-only store of immutable audit events with secondary
// indexes per reference field. The sequence number assigned at append
// time is the total order of the log; queries return events oldest
// first in that order.
type Log struct {
	mu      sync.RWMutex
	events  []*types.AuditEvent
	indexes map[string]map[string][]int
	sinks   []Sink
	logger  *logger.Logger
}

// New creates an empty event log
func New(log *logger.Logger) *Log {
	l := &Log{
		indexes: make(map[string]map[string][]int),
		logger:  log,
	}
	for _, dim := range []string{dimService, dimDatatype, dimPatient, dimContract, dimContractOrg, dimConsentOwnerTarget} {
		l.indexes[dim] = make(map[string][]int)
	}
	return l
}

// AddSink registers a sink invoked for every subsequent append.
func (l *Log) AddSink(sink Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, sink)
}

// Append assigns the next sequence number and timestamp to event and
// commits it to the log. The stored event is never mutated afterwards.
func (l *Log) Append(event *types.AuditEvent) *types.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Seq = uint64(len(l.events) + 1)
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	pos := len(l.events)
	l.events = append(l.events, event)

	l.indexValue(dimService, event.ServiceID, pos)
	l.indexValue(dimDatatype, event.DatatypeID, pos)
	l.indexValue(dimPatient, event.PatientID, pos)
	l.indexValue(dimContract, event.ContractID, pos)
	for _, orgID := range event.ContractOrgIDs {
		l.indexValue(dimContractOrg, orgID, pos)
	}
	for _, id := range event.ConsentOwnerTargetIDs {
		l.indexValue(dimConsentOwnerTarget, id, pos)
	}

	for _, sink := range l.sinks {
		if err := sink.Archive(event); err != nil {
			l.logger.WithComponent("eventlog").WithError(err).WithField("seq", event.Seq).Warn("Audit event archive failed")
		}
	}

	return event
}

func (l *Log) indexValue(dim, value string, pos int) {
	if value == "" {
		return
	}
	l.indexes[dim][value] = append(l.indexes[dim][value], pos)
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Query returns all events matching the filter, oldest first. Non-empty
// filter fields are intersected; the time range bounds the event
// timestamp inclusively.
func (l *Log) Query(filter types.AuditQueryFilter) []*types.AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	positions := l.candidatePositions(filter)

	var out []*types.AuditEvent
	for _, pos := range positions {
		event := l.events[pos]
		if !matches(event, filter) {
			continue
		}
		out = append(out, event)
	}
	return out
}

// candidatePositions picks the smallest index posting list among the
// requested dimensions, falling back to a full scan when no indexed
// field is filtered. Posting lists are naturally in append order.
func (l *Log) candidatePositions(filter types.AuditQueryFilter) []int {
	type indexed struct {
		dim   string
		value string
	}
	wanted := []indexed{
		{dimService, filter.ServiceID},
		{dimDatatype, filter.DatatypeID},
		{dimPatient, filter.PatientID},
		{dimContract, filter.ContractID},
		{dimContractOrg, filter.ContractOrgID},
		{dimConsentOwnerTarget, filter.ConsentOwnerTargetID},
	}

	var best []int
	found := false
	for _, w := range wanted {
		if w.value == "" {
			continue
		}
		postings := l.indexes[w.dim][w.value]
		if !found || len(postings) < len(best) {
			best = postings
			found = true
		}
	}
	if found {
		return best
	}

	all := make([]int, len(l.events))
	for i := range all {
		all[i] = i
	}
	return all
}

// matches applies the full filter to a single event.
func matches(e *types.AuditEvent, f types.AuditQueryFilter) bool {
	if f.ServiceID != "" && e.ServiceID != f.ServiceID {
		return false
	}
	if f.DatatypeID != "" && e.DatatypeID != f.DatatypeID {
		return false
	}
	if f.PatientID != "" && e.PatientID != f.PatientID {
		return false
	}
	if f.ContractID != "" && e.ContractID != f.ContractID {
		return false
	}
	if f.ContractOrgID != "" && !containsString(e.ContractOrgIDs, f.ContractOrgID) {
		return false
	}
	if f.ConsentOwnerTargetID != "" && !containsString(e.ConsentOwnerTargetIDs, f.ConsentOwnerTargetID) {
		return false
	}
	if f.StartTimestamp != 0 && e.Timestamp < f.StartTimestamp {
		return false
	}
	if f.EndTimestamp != 0 && e.Timestamp > f.EndTimestamp {
		return false
	}
	return true
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
