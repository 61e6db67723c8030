package records

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/consent"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/eventlog"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

type recordKey struct {
	ownerID    string
	serviceID  string
	datatypeID string
}

// Store holds opaque user data records keyed by (owner, service,
// datatype). Access goes exclusively through single-use tokens minted
// by the consent validator; the store never re-checks consent itself.
type Store struct {
	mu      sync.RWMutex
	records map[recordKey][]*types.UserDataRecord

	issuer *consent.TokenIssuer
	events *eventlog.Log
	logger *logger.Logger
}

// NewStore creates an empty record store.
func NewStore(issuer *consent.TokenIssuer, events *eventlog.Log, log *logger.Logger) *Store {
	return &Store{
		records: make(map[recordKey][]*types.UserDataRecord),
		issuer:  issuer,
		events:  events,
		logger:  log,
	}
}

// Upload stores a record under the token's scope. The token must have
// been issued for write access and is consumed here.
func (s *Store) Upload(caller types.Actor, tokenID, ownerID, serviceID, datatypeID string, payload []byte) (*types.UserDataRecord, error) {
	if _, err := s.issuer.Exchange(tokenID, caller.ID, ownerID, serviceID, datatypeID, types.AccessWrite); err != nil {
		return nil, err
	}

	record := &types.UserDataRecord{
		RecordID:   uuid.New().String(),
		OwnerID:    ownerID,
		ServiceID:  serviceID,
		DatatypeID: datatypeID,
		Payload:    payload,
		UploadedBy: caller.ID,
		CreateDate: time.Now().Unix(),
	}

	key := recordKey{ownerID, serviceID, datatypeID}
	s.mu.Lock()
	s.records[key] = append(s.records[key], record)
	s.mu.Unlock()

	// The audit payload stays empty; raw content is never logged.
	s.events.Append(&types.AuditEvent{
		Type:       types.EventUploadUserData,
		CallerID:   caller.ID,
		ServiceID:  serviceID,
		DatatypeID: datatypeID,
		PatientID:  ownerID,
		Data:       json.RawMessage("{}"),
	})

	s.logger.WithActorID(caller.ID).WithFields(map[string]interface{}{
		"service_id":  serviceID,
		"datatype_id": datatypeID,
	}).Info("User data uploaded")

	return record, nil
}

// Download returns the records under the token's scope. The token must
// have been issued for read access and is consumed here.
func (s *Store) Download(caller types.Actor, tokenID, ownerID, serviceID, datatypeID string) ([]*types.UserDataRecord, error) {
	if _, err := s.issuer.Exchange(tokenID, caller.ID, ownerID, serviceID, datatypeID, types.AccessRead); err != nil {
		return nil, err
	}

	s.mu.RLock()
	stored := s.records[recordKey{ownerID, serviceID, datatypeID}]
	out := make([]*types.UserDataRecord, len(stored))
	copy(out, stored)
	s.mu.RUnlock()

	s.events.Append(&types.AuditEvent{
		Type:       types.EventDownloadUserData,
		CallerID:   caller.ID,
		ServiceID:  serviceID,
		DatatypeID: datatypeID,
		PatientID:  ownerID,
		Data:       json.RawMessage("{}"),
	})

	s.logger.WithActorID(caller.ID).WithFields(map[string]interface{}{
		"service_id":  serviceID,
		"datatype_id": datatypeID,
	}).Info("User data downloaded")

	return out, nil
}

// RecordsFor returns the records for a tuple without consuming a
// token. Used by the contract download path, which authorizes through
// the contract engine instead.
func (s *Store) RecordsFor(ownerID, serviceID, datatypeID string) []*types.UserDataRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.records[recordKey{ownerID, serviceID, datatypeID}]
	out := make([]*types.UserDataRecord, len(stored))
	copy(out, stored)
	return out
}
