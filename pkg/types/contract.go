package types

// ContractState is a position in the contract lifecycle state machine.
type ContractState string

const (
	ContractStateRequested       ContractState = "requested"
	ContractStateSigned          ContractState = "signed"
	ContractStatePaymentDone     ContractState = "paymentDone"
	ContractStatePaymentVerified ContractState = "paymentVerified"
	ContractStateDownloadReady   ContractState = "downloadReady"
	ContractStateDownloadDone    ContractState = "downloadDone"
	ContractStateTerminated      ContractState = "terminated"
)

// ContractDetailType identifies the kind of a contract detail record.
type ContractDetailType string

const (
	DetailTypeRequest    ContractDetailType = "request"
	DetailTypeTerms      ContractDetailType = "terms"
	DetailTypeSign       ContractDetailType = "sign"
	DetailTypePayment    ContractDetailType = "payment"
	DetailTypeVerify     ContractDetailType = "verify"
	DetailTypePermission ContractDetailType = "permission"
	DetailTypeDownload   ContractDetailType = "download"
	DetailTypeTerminate  ContractDetailType = "terminate"
)

// ContractDetail is an immutable, ordered record appended to a contract.
// Details are never mutated after append.
type ContractDetail struct {
	DetailType     ContractDetailType `json:"contract_detail_type"`
	Terms          map[string]string  `json:"contract_detail_terms,omitempty"`
	DatatypeID     string             `json:"datatype_id,omitempty"`
	MaxNumDownload int                `json:"max_num_download,omitempty"`
	CreatedBy      string             `json:"created_by"`
	CreateDate     int64              `json:"create_date"`
}

// Contract is a multi-step negotiated agreement between an owner service
// and a requester service governing bulk data access.
type Contract struct {
	ContractID         string            `json:"contract_id"`
	OwnerOrgID         string            `json:"owner_org_id"`
	OwnerServiceID     string            `json:"owner_service_id"`
	RequesterOrgID     string            `json:"requester_org_id"`
	RequesterServiceID string            `json:"requester_service_id"`
	Terms              map[string]string `json:"contract_terms"`
	State              ContractState     `json:"state"`
	PaymentRequired    bool              `json:"payment_required"`
	PaymentVerified    bool              `json:"payment_verified"`
	MaxNumDownload     int               `json:"max_num_download"`
	NumDownload        int               `json:"num_download"`
	TerminatedBy       string            `json:"terminated_by,omitempty"`
	CreateDate         int64             `json:"create_date"`
	UpdateDate         int64             `json:"update_date"`
	Details            []ContractDetail  `json:"contract_details"`

	// PermittedDatatypes records which datatypes have received a
	// download permission grant.
	PermittedDatatypes map[string]bool `json:"permitted_datatypes,omitempty"`
}

// DatatypePermitted reports whether a permission grant covers datatypeID.
func (c *Contract) DatatypePermitted(datatypeID string) bool {
	return c.PermittedDatatypes[datatypeID]
}

// Terminated reports whether the contract reached the absorbing state.
func (c *Contract) Terminated() bool {
	return c.State == ContractStateTerminated
}

// Clone returns a deep copy that can be read or serialized while the
// original keeps changing under the engine's locks.
func (c *Contract) Clone() *Contract {
	out := *c
	out.Terms = cloneTermsMap(c.Terms)
	if c.PermittedDatatypes != nil {
		out.PermittedDatatypes = make(map[string]bool, len(c.PermittedDatatypes))
		for k, v := range c.PermittedDatatypes {
			out.PermittedDatatypes[k] = v
		}
	}
	if c.Details != nil {
		out.Details = make([]ContractDetail, len(c.Details))
		copy(out.Details, c.Details)
		for i := range out.Details {
			out.Details[i].Terms = cloneTermsMap(c.Details[i].Terms)
		}
	}
	return &out
}

func cloneTermsMap(terms map[string]string) map[string]string {
	if terms == nil {
		return nil
	}
	out := make(map[string]string, len(terms))
	for k, v := range terms {
		out[k] = v
	}
	return out
}
