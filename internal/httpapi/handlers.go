package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/audit"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/consent"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/contracts"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

// Directory handlers

type registerOrgRequest struct {
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
}

func (s *Service) handleRegisterOrg(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())

	var req registerOrgRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	org, err := s.directory.RegisterOrg(actor, req.OrgID, req.Name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, org)
}

type registerServiceRequest struct {
	ServiceID       string `json:"service_id"`
	OrgID           string `json:"org_id"`
	Name            string `json:"name"`
	PaymentRequired bool   `json:"payment_required"`
}

func (s *Service) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())

	var req registerServiceRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	svc, err := s.directory.RegisterService(actor, req.ServiceID, req.OrgID, req.Name, req.PaymentRequired)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, svc)
}

type registerDatatypeRequest struct {
	DatatypeID string `json:"datatype_id"`
	ServiceID  string `json:"service_id"`
	Name       string `json:"name"`
}

func (s *Service) handleRegisterDatatype(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())

	var req registerDatatypeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	dt, err := s.directory.RegisterDatatype(actor, req.DatatypeID, req.ServiceID, req.Name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, dt)
}

type registerPatientRequest struct {
	PatientID string `json:"patient_id"`
	Name      string `json:"name"`
}

func (s *Service) handleRegisterPatient(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())

	var req registerPatientRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	patient, err := s.directory.RegisterPatient(actor, req.PatientID, req.Name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, patient)
}

type enrollPatientRequest struct {
	ServiceID string `json:"service_id"`
}

func (s *Service) handleEnrollPatient(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	patientID := mux.Vars(r)["patientID"]

	var req enrollPatientRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if err := s.directory.EnrollPatient(actor, patientID, req.ServiceID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]string{
		"patient_id": patientID,
		"service_id": req.ServiceID,
		"status":     "enrolled",
	})
}

func (s *Service) handleRegisterAndConsent(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())

	var req consent.RegisterAndConsentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	result := s.pipeline.RegisterPatientAndConsent(actor, req)
	s.writeJSONResponse(w, http.StatusOK, result)
}

// Permission handlers

type permissionRequest struct {
	SubjectUserID string     `json:"subject_user_id"`
	Role          types.Role `json:"role"`
	ScopeID       string     `json:"scope_id"`
}

func (s *Service) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())

	var req permissionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if err := s.registry.Grant(actor, req.Role, req.ScopeID, req.SubjectUserID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]string{
		"subject_user_id": req.SubjectUserID,
		"role":            string(req.Role),
		"scope_id":        req.ScopeID,
		"status":          "granted",
	})
}

func (s *Service) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())

	var req permissionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if err := s.registry.Revoke(actor, req.Role, req.ScopeID, req.SubjectUserID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]string{
		"subject_user_id": req.SubjectUserID,
		"role":            string(req.Role),
		"scope_id":        req.ScopeID,
		"status":          "revoked",
	})
}

// Consent handlers

func (s *Service) handlePutPatientConsent(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	r, end := s.withConsentSpan(r, "put_patient")
	defer end()

	var req types.ConsentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	c, err := s.consents.PutPatientConsent(actor, req)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordConsentWrite("patient", "error")
		}
		s.writeDomainError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordConsentWrite("patient", "success")
	}
	s.writeJSONResponse(w, http.StatusOK, c)
}

func (s *Service) handlePutOwnerConsent(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	r, end := s.withConsentSpan(r, "put_owner")
	defer end()

	var req types.ConsentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	c, err := s.consents.PutOwnerConsent(actor, req)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordConsentWrite("owner", "error")
		}
		s.writeDomainError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordConsentWrite("owner", "success")
	}
	s.writeJSONResponse(w, http.StatusOK, c)
}

type multiConsentRequest struct {
	Consents []types.ConsentRequest `json:"consents"`
}

func (s *Service) handleMultiConsent(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	r, end := s.withConsentSpan(r, "batch")
	defer end()

	var req multiConsentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	result := s.consents.ApplyMultiConsent(actor, req.Consents)
	s.writeJSONResponse(w, http.StatusOK, result)
}

func (s *Service) handleValidateAccess(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	r, end := s.withConsentSpan(r, "validate")
	defer end()

	var req consent.AccessValidationRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	token, err := s.access.ValidateAccess(actor, req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordTokenIssued(string(req.Access))
	}
	s.writeJSONResponse(w, http.StatusOK, token)
}

// User data handlers

type userDataRequest struct {
	TokenID    string          `json:"token_id"`
	OwnerID    string          `json:"owner_id"`
	ServiceID  string          `json:"service_id"`
	DatatypeID string          `json:"datatype_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (s *Service) handleUploadUserData(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())

	var req userDataRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	record, err := s.records.Upload(actor, req.TokenID, req.OwnerID, req.ServiceID, req.DatatypeID, req.Payload)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, record)
}

func (s *Service) handleDownloadUserData(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())

	var req userDataRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	results, err := s.records.Download(actor, req.TokenID, req.OwnerID, req.ServiceID, req.DatatypeID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"records": results})
}

// Contract handlers

func (s *Service) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	r, end := s.withContractSpan(r, "create", "")
	defer end()

	var req contracts.CreateContractRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	c, err := s.contracts.Create(actor, req)
	if err != nil {
		s.recordTransition("create", err)
		s.writeDomainError(w, err)
		return
	}
	s.recordTransition("create", nil)
	s.writeJSONResponse(w, http.StatusCreated, c)
}

func (s *Service) handleGetContract(w http.ResponseWriter, r *http.Request) {
	contractID := mux.Vars(r)["contractID"]

	c, err := s.contracts.Get(contractID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, c)
}

type changeTermsRequest struct {
	Terms map[string]string `json:"contract_terms"`
}

func (s *Service) handleChangeTerms(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	contractID := mux.Vars(r)["contractID"]
	r, end := s.withContractSpan(r, "change_terms", contractID)
	defer end()

	var req changeTermsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	c, err := s.contracts.ChangeTerms(actor, contractID, req.Terms)
	if err != nil {
		s.recordTransition("change_terms", err)
		s.writeDomainError(w, err)
		return
	}
	s.recordTransition("change_terms", nil)
	s.writeJSONResponse(w, http.StatusOK, c)
}

func (s *Service) handleSignContract(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	contractID := mux.Vars(r)["contractID"]
	_, end := s.withContractSpan(r, "sign", contractID)
	defer end()

	c, err := s.contracts.Sign(actor, contractID)
	if err != nil {
		s.recordTransition("sign", err)
		s.writeDomainError(w, err)
		return
	}
	s.recordTransition("sign", nil)
	s.writeJSONResponse(w, http.StatusOK, c)
}

func (s *Service) handlePayContract(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	contractID := mux.Vars(r)["contractID"]
	_, end := s.withContractSpan(r, "pay", contractID)
	defer end()

	c, err := s.contracts.Pay(actor, contractID)
	if err != nil {
		s.recordTransition("pay", err)
		s.writeDomainError(w, err)
		return
	}
	s.recordTransition("pay", nil)
	s.writeJSONResponse(w, http.StatusOK, c)
}

func (s *Service) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	contractID := mux.Vars(r)["contractID"]
	_, end := s.withContractSpan(r, "verify_payment", contractID)
	defer end()

	c, err := s.contracts.VerifyPayment(actor, contractID)
	if err != nil {
		s.recordTransition("verify_payment", err)
		s.writeDomainError(w, err)
		return
	}
	s.recordTransition("verify_payment", nil)
	s.writeJSONResponse(w, http.StatusOK, c)
}

type grantContractPermissionRequest struct {
	DatatypeID     string `json:"datatype_id"`
	MaxNumDownload int    `json:"max_num_download"`
}

func (s *Service) handleGrantContractPermission(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	contractID := mux.Vars(r)["contractID"]
	r, end := s.withContractSpan(r, "grant_permission", contractID)
	defer end()

	var req grantContractPermissionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	c, err := s.contracts.GrantPermission(actor, contractID, req.DatatypeID, req.MaxNumDownload)
	if err != nil {
		s.recordTransition("grant_permission", err)
		s.writeDomainError(w, err)
		return
	}
	s.recordTransition("grant_permission", nil)
	s.writeJSONResponse(w, http.StatusOK, c)
}

type contractDownloadRequest struct {
	DatatypeID string `json:"datatype_id"`
}

func (s *Service) handleContractDownload(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	contractID := mux.Vars(r)["contractID"]
	r, end := s.withContractSpan(r, "download", contractID)
	defer end()

	var req contractDownloadRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	c, err := s.contracts.Download(actor, contractID, req.DatatypeID)
	if err != nil {
		s.recordTransition("download", err)
		s.writeDomainError(w, err)
		return
	}
	s.recordTransition("download", nil)

	// The download transition already charged the quota; the payload is
	// whatever the owner service holds for the permitted datatype.
	payload := s.records.RecordsFor(c.OwnerServiceID, c.OwnerServiceID, req.DatatypeID)
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"contract": c,
		"records":  payload,
	})
}

func (s *Service) handleTerminateContract(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	contractID := mux.Vars(r)["contractID"]
	_, end := s.withContractSpan(r, "terminate", contractID)
	defer end()

	c, err := s.contracts.Terminate(actor, contractID)
	if err != nil {
		s.recordTransition("terminate", err)
		s.writeDomainError(w, err)
		return
	}
	s.recordTransition("terminate", nil)
	s.writeJSONResponse(w, http.StatusOK, c)
}

func (s *Service) recordTransition(operation string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordContractTransition(operation, status)
}

// Span helpers. Each returns the request carrying the span context and
// an end function; both are no-ops when tracing is not configured.

func (s *Service) withContractSpan(r *http.Request, operation, contractID string) (*http.Request, func()) {
	if s.tracing == nil {
		return r, func() {}
	}
	ctx, span := s.tracing.StartContractSpan(r.Context(), operation, contractID)
	return r.WithContext(ctx), func() { span.End() }
}

func (s *Service) withConsentSpan(r *http.Request, operation string) (*http.Request, func()) {
	if s.tracing == nil {
		return r, func() {}
	}
	ctx, span := s.tracing.StartConsentSpan(r.Context(), operation)
	return r.WithContext(ctx), func() { span.End() }
}

func (s *Service) withAuditSpan(r *http.Request, operation string) (*http.Request, func()) {
	if s.tracing == nil {
		return r, func() {}
	}
	ctx, span := s.tracing.StartAuditSpan(r.Context(), operation)
	return r.WithContext(ctx), func() { span.End() }
}

// Audit handlers

func (s *Service) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	r, end := s.withAuditSpan(r, "query")
	defer end()

	var req audit.QueryRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	events := s.audit.Query(actor, req)
	if s.metrics != nil {
		s.metrics.RecordAuditQuery()
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
