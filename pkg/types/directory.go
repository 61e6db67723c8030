package types

// Org is a registered organization.
type Org struct {
	OrgID      string `json:"org_id"`
	Name       string `json:"name"`
	IsActive   bool   `json:"is_active"`
	CreateDate int64  `json:"create_date"`
}

// Service is a registered service under an organization. A service acts
// as a data owner or a data requester.
type Service struct {
	ServiceID string `json:"service_id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	// PaymentRequired is fixed service configuration; contracts created
	// against this service as owner inherit it at creation time.
	PaymentRequired bool  `json:"payment_required"`
	IsActive        bool  `json:"is_active"`
	CreateDate      int64 `json:"create_date"`
}

// Datatype is a typed category of data offered by a service.
type Datatype struct {
	DatatypeID string `json:"datatype_id"`
	ServiceID  string `json:"service_id"`
	Name       string `json:"name"`
	IsActive   bool   `json:"is_active"`
	CreateDate int64  `json:"create_date"`
}

// Patient is an individual data owner.
type Patient struct {
	PatientID  string `json:"patient_id"`
	Name       string `json:"name"`
	IsActive   bool   `json:"is_active"`
	CreateDate int64  `json:"create_date"`
	// EnrolledServices lists the services the patient is enrolled in.
	EnrolledServices []string `json:"enrolled_services,omitempty"`
}

// UserDataRecord is one opaque data record held for an owner under a
// service and datatype.
type UserDataRecord struct {
	RecordID   string          `json:"record_id"`
	OwnerID    string          `json:"owner_id"`
	ServiceID  string          `json:"service_id"`
	DatatypeID string          `json:"datatype_id"`
	Payload    []byte          `json:"payload"`
	UploadedBy string          `json:"uploaded_by"`
	CreateDate int64           `json:"create_date"`
}
