package types

// ConsentOption is a single access option recorded on a consent.
type ConsentOption string

const (
	ConsentOptionWrite ConsentOption = "write"
	ConsentOptionRead  ConsentOption = "read"
	ConsentOptionDeny  ConsentOption = "deny"
)

// AccessKind is the access requested at validation time.
type AccessKind string

const (
	AccessRead  AccessKind = "read"
	AccessWrite AccessKind = "write"
)

// Consent is a revocable, optionally time-bounded grant of access over
// one datatype. At most one active record exists per
// (owner, service, target, datatype) tuple; later writes overwrite.
// Deny is an option value, not a delete.
type Consent struct {
	OwnerID    string          `json:"owner_id"`
	ServiceID  string          `json:"service_id"`
	TargetID   string          `json:"target_id"`
	DatatypeID string          `json:"datatype_id"`
	Options    []ConsentOption `json:"option"`
	// Expiration is a Unix timestamp; 0 means no expiration.
	Expiration int64 `json:"expiration"`
	CreatedBy  string `json:"created_by"`
	CreateDate int64  `json:"create_date"`
	UpdateDate int64  `json:"update_date"`
}

// HasOption reports whether opt is present in the consent's option set.
func (c *Consent) HasOption(opt ConsentOption) bool {
	for _, o := range c.Options {
		if o == opt {
			return true
		}
	}
	return false
}

// EffectiveAt reports whether the consent grants the requested access at
// the given time. Denied or expired consents grant nothing.
func (c *Consent) EffectiveAt(access AccessKind, now int64) bool {
	if c.HasOption(ConsentOptionDeny) {
		return false
	}
	if c.Expiration != 0 && c.Expiration <= now {
		return false
	}
	switch access {
	case AccessWrite:
		return c.HasOption(ConsentOptionWrite)
	case AccessRead:
		// Write access implies upload eligibility only; read must be
		// granted explicitly.
		return c.HasOption(ConsentOptionRead)
	}
	return false
}

// ConsentRequest is one item of a consent write, standalone or batched.
type ConsentRequest struct {
	OwnerID    string          `json:"owner_id"`
	ServiceID  string          `json:"service_id"`
	TargetID   string          `json:"target_id"`
	DatatypeID string          `json:"datatype_id"`
	Options    []ConsentOption `json:"option"`
	Expiration int64           `json:"expiration"`
}

// ConsentFailureType identifies the pipeline stage at which a batch item
// failed.
type ConsentFailureType string

const (
	FailureTypeRegistration ConsentFailureType = "Registration"
	FailureTypeEnrollment   ConsentFailureType = "Enrollment"
	FailureTypeConsent      ConsentFailureType = "Consent"
)

// ConsentFailure carries the attempted parameters of a failed batch item.
type ConsentFailure struct {
	Request     ConsentRequest     `json:"request"`
	FailureType ConsentFailureType `json:"failure_type"`
	Reason      string             `json:"reason"`
}

// MultiConsentResult aggregates per-item outcomes of a consent batch.
// The batch call itself always succeeds; callers inspect the two lists.
type MultiConsentResult struct {
	Successes []ConsentRequest `json:"successes"`
	Failures  []ConsentFailure `json:"failures"`
}

// AccessToken is a short-lived, scope-bound credential pre-authorizing a
// single data upload or download. Tokens are single use.
type AccessToken struct {
	TokenID    string     `json:"token_id"`
	ActorID    string     `json:"actor_id"`
	OwnerID    string     `json:"owner_id"`
	ServiceID  string     `json:"service_id"`
	DatatypeID string     `json:"datatype_id"`
	Access     AccessKind `json:"access"`
	ExpiresAt  int64      `json:"expires_at"`
}
