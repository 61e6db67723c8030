package consent

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/directory"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/eventlog"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/permissions"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

type consentKey struct {
	ownerID    string
	serviceID  string
	targetID   string
	datatypeID string
}

// Store holds consent grants keyed by (owner, service, target,
// datatype). Later writes overwrite the record; every write also
// produces an audit event. Records are never hard-deleted; deny is an
// option value covering revocation.
type Store struct {
	mu       sync.RWMutex
	consents map[consentKey]*types.Consent

	registry *permissions.Registry
	dir      *directory.Directory
	events   *eventlog.Log
	logger   *logger.Logger
}

// NewStore creates an empty consent store.
func NewStore(registry *permissions.Registry, dir *directory.Directory, events *eventlog.Log, log *logger.Logger) *Store {
	return &Store{
		consents: make(map[consentKey]*types.Consent),
		registry: registry,
		dir:      dir,
		events:   events,
		logger:   log,
	}
}

// PutPatientConsent upserts a patient-data consent. The caller must be
// the consent owner; delegation is rejected, including org and service
// admins.
func (s *Store) PutPatientConsent(caller types.Actor, req types.ConsentRequest) (*types.Consent, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if caller.ID != req.OwnerID {
		return nil, types.NewUnauthorizedError(types.ErrCodeNotConsentOwner, "only the consent owner may submit a patient-data consent")
	}
	if err := s.validateReferences(req); err != nil {
		return nil, err
	}

	consent := s.upsert(caller, req)

	s.events.Append(&types.AuditEvent{
		Type:                  types.EventPutConsentPatientData,
		CallerID:              caller.ID,
		ServiceID:             req.ServiceID,
		DatatypeID:            req.DatatypeID,
		PatientID:             req.OwnerID,
		ConsentOwnerTargetIDs: []string{req.OwnerID, req.TargetID},
		Data:                  optionPayload(req.Options),
	})

	return consent, nil
}

// PutOwnerConsent upserts an owner-data consent: the owning service
// grants another party access to its own data, independent of any
// contract. The caller must be an admin of the owning service.
func (s *Store) PutOwnerConsent(caller types.Actor, req types.ConsentRequest) (*types.Consent, error) {
	if req.OwnerID == "" {
		req.OwnerID = req.ServiceID
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if !s.registry.IsServiceAdmin(caller.ID, req.ServiceID) {
		return nil, types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller is not an admin of the owning service")
	}
	if err := s.validateReferences(req); err != nil {
		return nil, err
	}

	consent := s.upsert(caller, req)

	s.events.Append(&types.AuditEvent{
		Type:                  types.EventPutConsentOwnerData,
		CallerID:              caller.ID,
		ServiceID:             req.ServiceID,
		DatatypeID:            req.DatatypeID,
		ConsentOwnerTargetIDs: []string{req.OwnerID, req.TargetID},
		Data:                  optionPayload(req.Options),
	})

	return consent, nil
}

// ApplyMultiConsent applies each patient-data item independently. A
// failing item is routed to the failures list with its attempted
// parameters; the batch
// itself never fails and items are atomic in isolation.
func (s *Store) ApplyMultiConsent(caller types.Actor, items []types.ConsentRequest) *types.MultiConsentResult {
	result := &types.MultiConsentResult{}
	for _, item := range items {
		if _, err := s.PutPatientConsent(caller, item); err != nil {
			result.Failures = append(result.Failures, types.ConsentFailure{
				Request:     item,
				FailureType: types.FailureTypeConsent,
				Reason:      err.Error(),
			})
			continue
		}
		result.Successes = append(result.Successes, item)
	}
	return result
}

// GetConsent returns the consent record for the exact tuple.
func (s *Store) GetConsent(ownerID, serviceID, targetID, datatypeID string) (*types.Consent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	consent, ok := s.consents[consentKey{ownerID, serviceID, targetID, datatypeID}]
	return consent, ok
}

// upsert writes the consent record under its tuple key.
func (s *Store) upsert(caller types.Actor, req types.ConsentRequest) *types.Consent {
	now := time.Now().Unix()
	key := consentKey{req.OwnerID, req.ServiceID, req.TargetID, req.DatatypeID}

	s.mu.Lock()
	defer s.mu.Unlock()

	consent := &types.Consent{
		OwnerID:    req.OwnerID,
		ServiceID:  req.ServiceID,
		TargetID:   req.TargetID,
		DatatypeID: req.DatatypeID,
		Options:    append([]types.ConsentOption(nil), req.Options...),
		Expiration: req.Expiration,
		CreatedBy:  caller.ID,
		CreateDate: now,
		UpdateDate: now,
	}
	if existing, ok := s.consents[key]; ok {
		consent.CreateDate = existing.CreateDate
	}
	s.consents[key] = consent
	return consent
}

// validateRequest checks required fields and option values.
func validateRequest(req types.ConsentRequest) error {
	if req.OwnerID == "" || req.ServiceID == "" || req.TargetID == "" || req.DatatypeID == "" {
		return types.NewValidationError(types.ErrCodeInvalidInput, "owner, service, target and datatype are required", nil)
	}
	if len(req.Options) == 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, "at least one consent option is required", nil)
	}
	for _, opt := range req.Options {
		switch opt {
		case types.ConsentOptionWrite, types.ConsentOptionRead, types.ConsentOptionDeny:
		default:
			return types.NewValidationError(types.ErrCodeInvalidInput, "unknown consent option", map[string]interface{}{"option": opt})
		}
	}
	return nil
}

// validateReferences checks the service and datatype exist and are
// active.
func (s *Store) validateReferences(req types.ConsentRequest) error {
	service, ok := s.dir.GetService(req.ServiceID)
	if !ok || !service.IsActive {
		return types.NewNotFoundError(types.ErrCodeNotFound, "service not found or inactive")
	}
	datatype, ok := s.dir.GetDatatype(req.DatatypeID)
	if !ok || !datatype.IsActive {
		return types.NewNotFoundError(types.ErrCodeNotFound, "datatype not found or inactive")
	}
	return nil
}

// optionPayload serializes the option set for the audit event payload.
func optionPayload(options []types.ConsentOption) json.RawMessage {
	payload, err := json.Marshal(map[string]interface{}{"option": options})
	if err != nil {
		return json.RawMessage("{}")
	}
	return payload
}
