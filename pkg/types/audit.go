package types

import "encoding/json"

// AuditEventType is the fixed vocabulary of audit event types.
type AuditEventType string

const (
	EventCreateContract                AuditEventType = "CreateContract"
	EventAddContractDetailTerms        AuditEventType = "AddContractDetailTerms"
	EventAddContractDetailSign         AuditEventType = "AddContractDetailSign"
	EventAddContractDetailPayment      AuditEventType = "AddContractDetailPayment"
	EventAddContractDetailVerify       AuditEventType = "AddContractDetailVerify"
	EventAddContractDetailTerminate    AuditEventType = "AddContractDetailTerminate"
	EventGivePermissionByContract      AuditEventType = "GivePermissionByContract"
	EventDownloadOwnerDataAsRequester  AuditEventType = "DownloadOwnerDataAsRequester"
	EventPutConsentPatientData         AuditEventType = "PutConsentPatientData"
	EventPutConsentOwnerData           AuditEventType = "PutConsentOwnerData"
	EventUploadUserData                AuditEventType = "UploadUserData"
	EventDownloadUserData              AuditEventType = "DownloadUserData"
	EventGrantPermission               AuditEventType = "GrantPermission"
	EventRevokePermission              AuditEventType = "RevokePermission"
	EventRegisterOrg                   AuditEventType = "RegisterOrg"
	EventRegisterService               AuditEventType = "RegisterService"
	EventRegisterDatatype              AuditEventType = "RegisterDatatype"
	EventRegisterPatient               AuditEventType = "RegisterPatient"
	EventEnrollPatient                 AuditEventType = "EnrollPatient"
)

// AuditEvent is one immutable entry of the event log. Identity is the
// monotonic sequence number assigned at append time; append order is
// causal order, and queries return events in that order.
type AuditEvent struct {
	Seq       uint64         `json:"seq"`
	Timestamp int64          `json:"timestamp"`
	Type      AuditEventType `json:"type"`
	CallerID  string         `json:"caller_id"`

	// Indexed reference fields. Empty fields are not indexed.
	ServiceID  string `json:"service_id,omitempty"`
	DatatypeID string `json:"datatype_id,omitempty"`
	PatientID  string `json:"patient_id,omitempty"`
	ContractID string `json:"contract_id,omitempty"`
	// ContractOrgIDs holds both the owner org and the requester org so a
	// contract_org_id filter matches either side.
	ContractOrgIDs []string `json:"contract_org_ids,omitempty"`
	// ConsentOwnerTargetIDs holds the consent owner and target so a
	// consent_owner_target_id filter matches either party.
	ConsentOwnerTargetIDs []string `json:"consent_owner_target_ids,omitempty"`

	// Data is an opaque payload. Upload/download events carry {} and
	// never raw content; consent events carry the option set.
	Data json.RawMessage `json:"data,omitempty"`
}

// AuditQueryFilter is the caller-supplied filter set for audit queries.
// Non-empty fields are intersected (AND).
type AuditQueryFilter struct {
	ServiceID            string `json:"service_id,omitempty"`
	DatatypeID           string `json:"datatype_id,omitempty"`
	PatientID            string `json:"patient_id,omitempty"`
	ContractID           string `json:"contract_id,omitempty"`
	ContractOrgID        string `json:"contract_org_id,omitempty"`
	ConsentOwnerTargetID string `json:"consent_owner_target_id,omitempty"`
	// StartTimestamp/EndTimestamp bound the event timestamp inclusively;
	// 0 means unbounded.
	StartTimestamp int64 `json:"start_timestamp,omitempty"`
	EndTimestamp   int64 `json:"end_timestamp,omitempty"`
}
