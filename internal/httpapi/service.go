package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/audit"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/consent"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/contracts"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/directory"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/permissions"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/records"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/monitoring"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

// Service is the HTTP surface over the sharing engines. Every route
// except health and metrics requires a bearer token.
type Service struct {
	logger    *logger.Logger
	validator *TokenValidator
	metrics   *monitoring.MetricsCollector
	health    *monitoring.HealthManager
	tracing   *monitoring.TracingManager

	directory *directory.Directory
	registry  *permissions.Registry
	consents  *consent.Store
	access    *consent.AccessValidator
	pipeline  *consent.Pipeline
	contracts *contracts.Engine
	records   *records.Store
	audit     *audit.QueryService

	router *mux.Router
}

// Dependencies bundles the engines the HTTP service exposes.
type Dependencies struct {
	Logger    *logger.Logger
	Validator *TokenValidator
	Metrics   *monitoring.MetricsCollector
	Health    *monitoring.HealthManager
	Tracing   *monitoring.TracingManager

	Directory *directory.Directory
	Registry  *permissions.Registry
	Consents  *consent.Store
	Access    *consent.AccessValidator
	Pipeline  *consent.Pipeline
	Contracts *contracts.Engine
	Records   *records.Store
	Audit     *audit.QueryService
}

// NewService creates the HTTP service and wires its routes.
func NewService(deps Dependencies) *Service {
	s := &Service{
		logger:    deps.Logger,
		validator: deps.Validator,
		metrics:   deps.Metrics,
		health:    deps.Health,
		tracing:   deps.Tracing,
		directory: deps.Directory,
		registry:  deps.Registry,
		consents:  deps.Consents,
		access:    deps.Access,
		pipeline:  deps.Pipeline,
		contracts: deps.Contracts,
		records:   deps.Records,
		audit:     deps.Audit,
	}
	s.router = s.setupRoutes()
	return s
}

// Router returns the configured HTTP handler.
func (s *Service) Router() http.Handler {
	return s.router
}

func (s *Service) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	if s.tracing != nil {
		api.Use(s.tracingMiddleware)
	}
	api.Use(s.authMiddleware)
	api.Use(s.loggingMiddleware)
	if s.metrics != nil {
		api.Use(s.metrics.HTTPMiddleware)
	}

	// Directory
	api.HandleFunc("/orgs", s.handleRegisterOrg).Methods("POST")
	api.HandleFunc("/services", s.handleRegisterService).Methods("POST")
	api.HandleFunc("/datatypes", s.handleRegisterDatatype).Methods("POST")
	api.HandleFunc("/patients", s.handleRegisterPatient).Methods("POST")
	api.HandleFunc("/patients/{patientID}/enrollments", s.handleEnrollPatient).Methods("POST")
	api.HandleFunc("/patients/register-with-consents", s.handleRegisterAndConsent).Methods("POST")

	// Permissions
	api.HandleFunc("/permissions/grants", s.handleGrantPermission).Methods("POST")
	api.HandleFunc("/permissions/revocations", s.handleRevokePermission).Methods("POST")

	// Consents
	api.HandleFunc("/consents/patient", s.handlePutPatientConsent).Methods("PUT")
	api.HandleFunc("/consents/owner", s.handlePutOwnerConsent).Methods("PUT")
	api.HandleFunc("/consents/batch", s.handleMultiConsent).Methods("POST")
	api.HandleFunc("/consents/validations", s.handleValidateAccess).Methods("POST")

	// User data
	api.HandleFunc("/data/uploads", s.handleUploadUserData).Methods("POST")
	api.HandleFunc("/data/downloads", s.handleDownloadUserData).Methods("POST")

	// Contracts
	api.HandleFunc("/contracts", s.handleCreateContract).Methods("POST")
	api.HandleFunc("/contracts/{contractID}", s.handleGetContract).Methods("GET")
	api.HandleFunc("/contracts/{contractID}/terms", s.handleChangeTerms).Methods("PUT")
	api.HandleFunc("/contracts/{contractID}/signature", s.handleSignContract).Methods("POST")
	api.HandleFunc("/contracts/{contractID}/payment", s.handlePayContract).Methods("POST")
	api.HandleFunc("/contracts/{contractID}/payment-verification", s.handleVerifyPayment).Methods("POST")
	api.HandleFunc("/contracts/{contractID}/permissions", s.handleGrantContractPermission).Methods("POST")
	api.HandleFunc("/contracts/{contractID}/downloads", s.handleContractDownload).Methods("POST")
	api.HandleFunc("/contracts/{contractID}/termination", s.handleTerminateContract).Methods("POST")

	// Audit
	api.HandleFunc("/audit/query", s.handleAuditQuery).Methods("POST")

	return router
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health.HTTPHandler()(w, r)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Service) writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (s *Service) writeErrorResponse(w http.ResponseWriter, status int, message string) {
	s.writeJSONResponse(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}

// writeDomainError maps engine errors onto HTTP status codes.
func (s *Service) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch types.ErrorTypeOf(err) {
	case types.ErrorTypeUnauthorized:
		status = http.StatusUnauthorized
	case types.ErrorTypeValidation:
		status = http.StatusBadRequest
	case types.ErrorTypeNotFound:
		status = http.StatusNotFound
	case types.ErrorTypeInvalidState:
		status = http.StatusConflict
	case types.ErrorTypePermissionDenied:
		status = http.StatusForbidden
	}

	var sharingErr *types.SharingError
	if errors.As(err, &sharingErr) {
		s.writeJSONResponse(w, status, map[string]interface{}{
			"error":  sharingErr.Message,
			"code":   sharingErr.Code,
			"status": status,
		})
		return
	}
	s.writeErrorResponse(w, status, err.Error())
}

func (s *Service) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
