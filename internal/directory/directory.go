package directory

import (
	"sync"
	"time"

	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/eventlog"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

// Authorizer is the capability-check entry point consulted before every
// mutating directory operation. Implemented by the permission registry.
type Authorizer interface {
	IsSysAdmin(userID string) bool
	IsOrgAdmin(userID, orgID string) bool
	IsServiceAdmin(userID, serviceID string) bool
}

// Directory is the registry of organizations, services, datatypes and
// patients. It holds only what the contract, consent and audit engines
// need for existence and active checks.
type Directory struct {
	mu        sync.RWMutex
	orgs      map[string]*types.Org
	services  map[string]*types.Service
	datatypes map[string]*types.Datatype
	patients  map[string]*types.Patient

	auth   Authorizer
	events *eventlog.Log
	logger *logger.Logger
}

// New creates an empty directory. SetAuthorizer must be called before
// any mutating operation.
func New(events *eventlog.Log, log *logger.Logger) *Directory {
	return &Directory{
		orgs:      make(map[string]*types.Org),
		services:  make(map[string]*types.Service),
		datatypes: make(map[string]*types.Datatype),
		patients:  make(map[string]*types.Patient),
		events:    events,
		logger:    log,
	}
}

// SetAuthorizer wires the permission registry in. The registry itself
// resolves org membership through this directory, so the two are
// constructed first and linked afterwards.
func (d *Directory) SetAuthorizer(auth Authorizer) {
	d.auth = auth
}

// RegisterOrg registers a new organization. Caller must be sys-admin.
func (d *Directory) RegisterOrg(actor types.Actor, orgID, name string) (*types.Org, error) {
	if orgID == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "org id is required", nil)
	}
	if !d.auth.IsSysAdmin(actor.ID) {
		return nil, types.NewUnauthorizedError(types.ErrCodeUnauthorized, "only sys-admin may register an org")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.orgs[orgID]; exists {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "org already registered", map[string]interface{}{"org_id": orgID})
	}

	org := &types.Org{
		OrgID:      orgID,
		Name:       name,
		IsActive:   true,
		CreateDate: time.Now().Unix(),
	}
	d.orgs[orgID] = org

	d.events.Append(&types.AuditEvent{
		Type:     types.EventRegisterOrg,
		CallerID: actor.ID,
	})

	d.logger.WithField("org_id", orgID).Info("Organization registered")
	return org, nil
}

// RegisterService registers a new service under an org. Caller must be
// an org-admin of that org or sys-admin.
func (d *Directory) RegisterService(actor types.Actor, serviceID, orgID, name string, paymentRequired bool) (*types.Service, error) {
	if serviceID == "" || orgID == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "service id and org id are required", nil)
	}
	if !d.auth.IsSysAdmin(actor.ID) && !d.auth.IsOrgAdmin(actor.ID, orgID) {
		return nil, types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller is not an admin of the org")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	org, exists := d.orgs[orgID]
	if !exists || !org.IsActive {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "org not found or inactive")
	}
	if _, exists := d.services[serviceID]; exists {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "service already registered", map[string]interface{}{"service_id": serviceID})
	}

	service := &types.Service{
		ServiceID:       serviceID,
		OrgID:           orgID,
		Name:            name,
		PaymentRequired: paymentRequired,
		IsActive:        true,
		CreateDate:      time.Now().Unix(),
	}
	d.services[serviceID] = service

	d.events.Append(&types.AuditEvent{
		Type:      types.EventRegisterService,
		CallerID:  actor.ID,
		ServiceID: serviceID,
	})

	d.logger.WithField("service_id", serviceID).Info("Service registered")
	return service, nil
}

// RegisterDatatype registers a datatype offered by a service. Caller
// must be an admin of the service.
func (d *Directory) RegisterDatatype(actor types.Actor, datatypeID, serviceID, name string) (*types.Datatype, error) {
	if datatypeID == "" || serviceID == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "datatype id and service id are required", nil)
	}
	if !d.auth.IsServiceAdmin(actor.ID, serviceID) {
		return nil, types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller is not an admin of the service")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	service, exists := d.services[serviceID]
	if !exists || !service.IsActive {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "service not found or inactive")
	}
	if _, exists := d.datatypes[datatypeID]; exists {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "datatype already registered", map[string]interface{}{"datatype_id": datatypeID})
	}

	datatype := &types.Datatype{
		DatatypeID: datatypeID,
		ServiceID:  serviceID,
		Name:       name,
		IsActive:   true,
		CreateDate: time.Now().Unix(),
	}
	d.datatypes[datatypeID] = datatype

	d.events.Append(&types.AuditEvent{
		Type:       types.EventRegisterDatatype,
		CallerID:   actor.ID,
		ServiceID:  serviceID,
		DatatypeID: datatypeID,
	})

	return datatype, nil
}

// RegisterPatient registers an individual data owner. Caller must hold
// an org-admin or service-admin grant; sys-admins are rejected. The
// patient may also self-register.
func (d *Directory) RegisterPatient(actor types.Actor, patientID, name string) (*types.Patient, error) {
	if patientID == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "patient id is required", nil)
	}
	if actor.ID != patientID && !d.isAnyAdmin(actor.ID) {
		return nil, types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller may not register patients")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.patients[patientID]; exists {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "patient already registered", map[string]interface{}{"patient_id": patientID})
	}

	patient := &types.Patient{
		PatientID:  patientID,
		Name:       name,
		IsActive:   true,
		CreateDate: time.Now().Unix(),
	}
	d.patients[patientID] = patient

	d.events.Append(&types.AuditEvent{
		Type:      types.EventRegisterPatient,
		CallerID:  actor.ID,
		PatientID: patientID,
	})

	return patient, nil
}

// EnrollPatient enrolls a registered patient into a service. Caller
// must be an admin of the service or the patient themself.
func (d *Directory) EnrollPatient(actor types.Actor, patientID, serviceID string) error {
	if actor.ID != patientID && !d.auth.IsServiceAdmin(actor.ID, serviceID) {
		return types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller is not an admin of the service")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	patient, exists := d.patients[patientID]
	if !exists || !patient.IsActive {
		return types.NewNotFoundError(types.ErrCodeNotFound, "patient not found or inactive")
	}
	service, exists := d.services[serviceID]
	if !exists || !service.IsActive {
		return types.NewNotFoundError(types.ErrCodeNotFound, "service not found or inactive")
	}

	for _, enrolled := range patient.EnrolledServices {
		if enrolled == serviceID {
			return nil
		}
	}
	patient.EnrolledServices = append(patient.EnrolledServices, serviceID)

	d.events.Append(&types.AuditEvent{
		Type:      types.EventEnrollPatient,
		CallerID:  actor.ID,
		ServiceID: serviceID,
		PatientID: patientID,
	})

	return nil
}

// GetOrg returns the org with the given ID.
func (d *Directory) GetOrg(orgID string) (*types.Org, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	org, ok := d.orgs[orgID]
	return org, ok
}

// GetService returns the service with the given ID.
func (d *Directory) GetService(serviceID string) (*types.Service, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	service, ok := d.services[serviceID]
	return service, ok
}

// GetDatatype returns the datatype with the given ID.
func (d *Directory) GetDatatype(datatypeID string) (*types.Datatype, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	datatype, ok := d.datatypes[datatypeID]
	return datatype, ok
}

// GetPatient returns the patient with the given ID.
func (d *Directory) GetPatient(patientID string) (*types.Patient, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	patient, ok := d.patients[patientID]
	return patient, ok
}

// OrgOfService resolves the org a service belongs to. Used by the
// permission registry for scope resolution.
func (d *Directory) OrgOfService(serviceID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	service, ok := d.services[serviceID]
	if !ok {
		return "", false
	}
	return service.OrgID, true
}

// ServicesOfOrg lists the service IDs under an org. Used by the
// permission registry to expand org-admin audit scope at query time.
func (d *Directory) ServicesOfOrg(orgID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for id, service := range d.services {
		if service.OrgID == orgID {
			out = append(out, id)
		}
	}
	return out
}

// isAnyAdmin reports whether the user holds an org-admin or
// service-admin grant over any scope. Sys-admin does not qualify.
func (d *Directory) isAnyAdmin(userID string) bool {
	d.mu.RLock()
	orgIDs := make([]string, 0, len(d.orgs))
	for id := range d.orgs {
		orgIDs = append(orgIDs, id)
	}
	serviceIDs := make([]string, 0, len(d.services))
	for id := range d.services {
		serviceIDs = append(serviceIDs, id)
	}
	d.mu.RUnlock()

	for _, orgID := range orgIDs {
		if d.auth.IsOrgAdmin(userID, orgID) {
			return true
		}
	}
	for _, serviceID := range serviceIDs {
		if d.auth.IsServiceAdmin(userID, serviceID) {
			return true
		}
	}
	return false
}
