package contracts

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/directory"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/eventlog"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/permissions"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

// CreateContractRequest carries the parameters of contract creation.
type CreateContractRequest struct {
	ContractID         string            `json:"contract_id,omitempty"`
	OwnerOrgID         string            `json:"owner_org_id"`
	OwnerServiceID     string            `json:"owner_service_id"`
	RequesterOrgID     string            `json:"requester_org_id"`
	RequesterServiceID string            `json:"requester_service_id"`
	Terms              map[string]string `json:"contract_terms"`
}

// Engine owns Contract entities and enforces the lifecycle state
// machine. Mutating operations are serialized per contract so no two
// concurrent transitions observe the same prior state. A rejected call
// leaves the contract untouched: no detail is appended on failure.
type Engine struct {
	mu        sync.RWMutex
	contracts map[string]*types.Contract
	locks     map[string]*sync.Mutex

	registry *permissions.Registry
	dir      *directory.Directory
	events   *eventlog.Log
	logger   *logger.Logger
}

// NewEngine creates an empty contract engine.
func NewEngine(registry *permissions.Registry, dir *directory.Directory, events *eventlog.Log, log *logger.Logger) *Engine {
	return &Engine{
		contracts: make(map[string]*types.Contract),
		locks:     make(map[string]*sync.Mutex),
		registry:  registry,
		dir:       dir,
		events:    events,
		logger:    log,
	}
}

// Create validates the owner and requester references and creates the
// contract in the requested state with an initial request detail.
// Caller must be an admin of the owner service. payment_required is
// fixed here from the owner service's configuration.
func (e *Engine) Create(actor types.Actor, req CreateContractRequest) (*types.Contract, error) {
	if req.OwnerOrgID == "" || req.OwnerServiceID == "" || req.RequesterOrgID == "" || req.RequesterServiceID == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "owner and requester org and service are required", nil)
	}
	if !e.registry.IsServiceAdmin(actor.ID, req.OwnerServiceID) {
		return nil, types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller is not an admin of the owner service")
	}

	ownerService, err := e.activeService(req.OwnerServiceID, req.OwnerOrgID)
	if err != nil {
		return nil, err
	}
	if _, err := e.activeService(req.RequesterServiceID, req.RequesterOrgID); err != nil {
		return nil, err
	}

	contractID := req.ContractID
	if contractID == "" {
		contractID = uuid.New().String()
	}

	now := time.Now().Unix()
	contract := &types.Contract{
		ContractID:         contractID,
		OwnerOrgID:         req.OwnerOrgID,
		OwnerServiceID:     req.OwnerServiceID,
		RequesterOrgID:     req.RequesterOrgID,
		RequesterServiceID: req.RequesterServiceID,
		Terms:              copyTerms(req.Terms),
		State:              types.ContractStateRequested,
		PaymentRequired:    ownerService.PaymentRequired,
		CreateDate:         now,
		UpdateDate:         now,
		PermittedDatatypes: make(map[string]bool),
		Details: []types.ContractDetail{{
			DetailType: types.DetailTypeRequest,
			Terms:      copyTerms(req.Terms),
			CreatedBy:  actor.ID,
			CreateDate: now,
		}},
	}

	e.mu.Lock()
	if _, exists := e.contracts[contractID]; exists {
		e.mu.Unlock()
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "contract already exists", map[string]interface{}{"contract_id": contractID})
	}
	e.contracts[contractID] = contract
	e.locks[contractID] = &sync.Mutex{}
	snapshot := contract.Clone()
	e.mu.Unlock()

	e.appendContractEvent(types.EventCreateContract, actor, contract, "", nil)

	e.logger.WithFields(map[string]interface{}{
		"contract_id":       contractID,
		"owner_service_id":  req.OwnerServiceID,
		"requester_service": req.RequesterServiceID,
	}).Info("Contract created")

	return snapshot, nil
}

// ChangeTerms appends a terms detail with the new snapshot. Allowed for
// both sides' admins at any point before termination; it does not move
// the state by itself.
func (e *Engine) ChangeTerms(actor types.Actor, contractID string, terms map[string]string) (*types.Contract, error) {
	return e.transition(actor, contractID, func(c *types.Contract) error {
		if !e.isPartyAdmin(actor, c) {
			return types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller is not an admin of either contract party")
		}
		if c.Terminated() {
			return types.NewInvalidStateError(types.ErrCodeInvalidState, "contract is terminated")
		}

		now := time.Now().Unix()
		c.Terms = copyTerms(terms)
		c.UpdateDate = now
		c.Details = append(c.Details, types.ContractDetail{
			DetailType: types.DetailTypeTerms,
			Terms:      copyTerms(terms),
			CreatedBy:  actor.ID,
			CreateDate: now,
		})

		e.appendContractEvent(types.EventAddContractDetailTerms, actor, c, "", nil)
		return nil
	})
}

// Sign moves the contract to signed. Caller must be an admin of the
// requester service; at least one request or terms detail must exist.
func (e *Engine) Sign(actor types.Actor, contractID string) (*types.Contract, error) {
	return e.transition(actor, contractID, func(c *types.Contract) error {
		if !e.registry.IsServiceAdmin(actor.ID, c.RequesterServiceID) {
			return types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller is not an admin of the requester service")
		}
		if c.Terminated() {
			return types.NewInvalidStateError(types.ErrCodeInvalidState, "contract is terminated")
		}
		if c.State != types.ContractStateRequested {
			return types.NewInvalidStateError(types.ErrCodeInvalidState, "contract is not awaiting signature")
		}
		if !hasTermsDetail(c) {
			return types.NewInvalidStateError(types.ErrCodeInvalidState, "no request or terms detail to sign")
		}

		now := time.Now().Unix()
		c.State = types.ContractStateSigned
		c.UpdateDate = now
		c.Details = append(c.Details, types.ContractDetail{
			DetailType: types.DetailTypeSign,
			Terms:      copyTerms(c.Terms),
			CreatedBy:  actor.ID,
			CreateDate: now,
		})

		e.appendContractEvent(types.EventAddContractDetailSign, actor, c, "", nil)
		return nil
	})
}

// Pay records the requester's payment. It is the gating step toward
// paymentVerified when the contract requires payment, and remains
// callable regardless.
func (e *Engine) Pay(actor types.Actor, contractID string) (*types.Contract, error) {
	return e.transition(actor, contractID, func(c *types.Contract) error {
		if !e.registry.IsServiceAdmin(actor.ID, c.RequesterServiceID) {
			return types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller is not an admin of the requester service")
		}
		if c.Terminated() {
			return types.NewInvalidStateError(types.ErrCodeInvalidState, "contract is terminated")
		}
		if c.State != types.ContractStateSigned {
			return types.NewInvalidStateError(types.ErrCodeInvalidState, "contract is not signed")
		}

		now := time.Now().Unix()
		c.State = types.ContractStatePaymentDone
		c.UpdateDate = now
		c.Details = append(c.Details, types.ContractDetail{
			DetailType: types.DetailTypePayment,
			CreatedBy:  actor.ID,
			CreateDate: now,
		})

		e.appendContractEvent(types.EventAddContractDetailPayment, actor, c, "", nil)
		return nil
	})
}

// VerifyPayment is the owner's confirmation of the requester's payment.
func (e *Engine) VerifyPayment(actor types.Actor, contractID string) (*types.Contract, error) {
	return e.transition(actor, contractID, func(c *types.Contract) error {
		if !e.registry.IsServiceAdmin(actor.ID, c.OwnerServiceID) {
			return types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller is not an admin of the owner service")
		}
		if c.Terminated() {
			return types.NewInvalidStateError(types.ErrCodeInvalidState, "contract is terminated")
		}
		if c.State != types.ContractStatePaymentDone {
			return types.NewInvalidStateError(types.ErrCodeInvalidState, "no payment to verify")
		}

		now := time.Now().Unix()
		c.State = types.ContractStatePaymentVerified
		c.PaymentVerified = true
		c.UpdateDate = now
		c.Details = append(c.Details, types.ContractDetail{
			DetailType: types.DetailTypeVerify,
			CreatedBy:  actor.ID,
			CreateDate: now,
		})

		e.appendContractEvent(types.EventAddContractDetailVerify, actor, c, "", nil)
		return nil
	})
}

// GrantPermission grants download permission for a datatype with a
// download cap. The first grant fixes max_num_download and resets the
// counter; later grants add datatypes without touching the counter,
// and once the cap is consumed a further grant cannot reopen
// downloads. With payment required the payment must have been
// verified first; a free contract may be granted immediately after
// signature.
func (e *Engine) GrantPermission(actor types.Actor, contractID, datatypeID string, maxNumDownload int) (*types.Contract, error) {
	return e.transition(actor, contractID, func(c *types.Contract) error {
		if !e.registry.IsServiceAdmin(actor.ID, c.OwnerServiceID) {
			return types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller is not an admin of the owner service")
		}
		if maxNumDownload <= 0 {
			return types.NewValidationError(types.ErrCodeInvalidInput, "max_num_download must be positive", map[string]interface{}{"max_num_download": maxNumDownload})
		}
		if _, ok := e.dir.GetDatatype(datatypeID); !ok {
			return types.NewNotFoundError(types.ErrCodeNotFound, "datatype not found")
		}
		if c.Terminated() {
			return types.NewInvalidStateError(types.ErrCodeInvalidState, "contract is terminated")
		}

		if c.PaymentRequired {
			if !c.PaymentVerified {
				return types.NewInvalidStateError(types.ErrCodeInvalidState, "payment has not been verified")
			}
		} else if c.State == types.ContractStateRequested {
			return types.NewInvalidStateError(types.ErrCodeInvalidState, "contract has not been signed")
		}

		now := time.Now().Unix()
		if len(c.PermittedDatatypes) == 0 {
			c.MaxNumDownload = maxNumDownload
			c.NumDownload = 0
		}
		c.PermittedDatatypes[datatypeID] = true
		if c.NumDownload < c.MaxNumDownload {
			c.State = types.ContractStateDownloadReady
		}
		c.UpdateDate = now
		c.Details = append(c.Details, types.ContractDetail{
			DetailType:     types.DetailTypePermission,
			DatatypeID:     datatypeID,
			MaxNumDownload: maxNumDownload,
			CreatedBy:      actor.ID,
			CreateDate:     now,
		})

		e.appendContractEvent(types.EventGivePermissionByContract, actor, c, datatypeID, nil)
		return nil
	})
}

// Download consumes one download as the requester. The counter never
// exceeds the cap: the transition to downloadDone happens exactly when
// num_download reaches max_num_download, and further downloads are
// rejected.
func (e *Engine) Download(actor types.Actor, contractID, datatypeID string) (*types.Contract, error) {
	return e.transition(actor, contractID, func(c *types.Contract) error {
		if !e.registry.IsServiceAdmin(actor.ID, c.RequesterServiceID) {
			return types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller is not an admin of the requester service")
		}
		if c.Terminated() {
			return types.NewInvalidStateError(types.ErrCodeInvalidState, "contract is terminated")
		}
		if !c.DatatypePermitted(datatypeID) {
			return types.NewPermissionDeniedError(types.ErrCodePermissionDenied, "no permission granted for this datatype")
		}
		if c.State != types.ContractStateDownloadReady || c.NumDownload >= c.MaxNumDownload {
			return types.NewInvalidStateError(types.ErrCodeDownloadExhausted, "download cap reached")
		}

		now := time.Now().Unix()
		c.NumDownload++
		if c.NumDownload >= c.MaxNumDownload {
			c.State = types.ContractStateDownloadDone
		}
		c.UpdateDate = now
		c.Details = append(c.Details, types.ContractDetail{
			DetailType: types.DetailTypeDownload,
			DatatypeID: datatypeID,
			CreatedBy:  actor.ID,
			CreateDate: now,
		})

		e.appendContractEvent(types.EventDownloadOwnerDataAsRequester, actor, c, datatypeID, json.RawMessage("{}"))
		return nil
	})
}

// Terminate moves the contract to the absorbing terminated state,
// recording who terminated it. Valid from every state; re-terminating
// is an idempotent success.
func (e *Engine) Terminate(actor types.Actor, contractID string) (*types.Contract, error) {
	return e.transition(actor, contractID, func(c *types.Contract) error {
		if !e.isPartyAdmin(actor, c) {
			return types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller is not an admin of either contract party")
		}
		if c.Terminated() {
			return nil
		}

		now := time.Now().Unix()
		c.State = types.ContractStateTerminated
		c.TerminatedBy = actor.ID
		c.UpdateDate = now
		c.Details = append(c.Details, types.ContractDetail{
			DetailType: types.DetailTypeTerminate,
			CreatedBy:  actor.ID,
			CreateDate: now,
		})

		e.appendContractEvent(types.EventAddContractDetailTerminate, actor, c, "", nil)
		return nil
	})
}

// Get returns a snapshot of the contract with the given ID. The copy
// is taken under the contract's lock so readers never observe a
// half-applied transition.
func (e *Engine) Get(contractID string) (*types.Contract, error) {
	e.mu.RLock()
	contract, ok := e.contracts[contractID]
	lock := e.locks[contractID]
	e.mu.RUnlock()
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "contract not found")
	}

	lock.Lock()
	defer lock.Unlock()
	return contract.Clone(), nil
}

// transition runs op under the contract's lock. op mutates the
// contract only after all checks pass, which keeps rejected calls free
// of side effects. The returned contract is a snapshot taken before
// the lock is released.
func (e *Engine) transition(actor types.Actor, contractID string, op func(*types.Contract) error) (*types.Contract, error) {
	e.mu.RLock()
	contract, ok := e.contracts[contractID]
	lock := e.locks[contractID]
	e.mu.RUnlock()
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "contract not found")
	}

	lock.Lock()
	defer lock.Unlock()

	if err := op(contract); err != nil {
		return nil, err
	}
	return contract.Clone(), nil
}

// isPartyAdmin reports whether actor administers the owner or the
// requester service of the contract.
func (e *Engine) isPartyAdmin(actor types.Actor, c *types.Contract) bool {
	return e.registry.IsServiceAdmin(actor.ID, c.OwnerServiceID) ||
		e.registry.IsServiceAdmin(actor.ID, c.RequesterServiceID)
}

// activeService validates a service reference and its org binding.
func (e *Engine) activeService(serviceID, orgID string) (*types.Service, error) {
	org, ok := e.dir.GetOrg(orgID)
	if !ok || !org.IsActive {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "org not found or inactive")
	}
	service, ok := e.dir.GetService(serviceID)
	if !ok || !service.IsActive {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "service not found or inactive")
	}
	if service.OrgID != orgID {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "service does not belong to the given org", map[string]interface{}{"service_id": serviceID, "org_id": orgID})
	}
	return service, nil
}

// appendContractEvent emits the audit event for a contract mutation.
// Upload/download events never carry content; the data payload stays
// empty or {}.
func (e *Engine) appendContractEvent(eventType types.AuditEventType, actor types.Actor, c *types.Contract, datatypeID string, data json.RawMessage) {
	e.events.Append(&types.AuditEvent{
		Type:           eventType,
		CallerID:       actor.ID,
		ServiceID:      c.OwnerServiceID,
		DatatypeID:     datatypeID,
		ContractID:     c.ContractID,
		ContractOrgIDs: []string{c.OwnerOrgID, c.RequesterOrgID},
		Data:           data,
	})
}

func hasTermsDetail(c *types.Contract) bool {
	for _, d := range c.Details {
		if d.DetailType == types.DetailTypeRequest || d.DetailType == types.DetailTypeTerms {
			return true
		}
	}
	return false
}

func copyTerms(terms map[string]string) map[string]string {
	out := make(map[string]string, len(terms))
	for k, v := range terms {
		out[k] = v
	}
	return out
}
