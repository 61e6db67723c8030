package consent

import (
	"time"

	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/permissions"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

// AccessValidationRequest asks for a pre-authorized upload or download.
type AccessValidationRequest struct {
	OwnerID    string           `json:"owner_id"`
	ServiceID  string           `json:"service_id"`
	TargetID   string           `json:"target_id"`
	DatatypeID string           `json:"datatype_id"`
	Access     types.AccessKind `json:"access"`
}

// AccessValidator checks effective consent and mints access tokens.
// Write consent implies upload eligibility, read consent download
// eligibility; denied or expired consent grants nothing.
type AccessValidator struct {
	store    *Store
	issuer   *TokenIssuer
	registry *permissions.Registry
	logger   *logger.Logger
}

// NewAccessValidator creates a validator over the store and issuer.
func NewAccessValidator(store *Store, issuer *TokenIssuer, registry *permissions.Registry, log *logger.Logger) *AccessValidator {
	return &AccessValidator{
		store:    store,
		issuer:   issuer,
		registry: registry,
		logger:   log,
	}
}

// ValidateAccess checks that the caller may act as the consent target
// and that an effective consent grants the requested access, then mints
// a fresh single-use token scoped to exactly that tuple.
func (v *AccessValidator) ValidateAccess(caller types.Actor, req AccessValidationRequest) (*types.AccessToken, error) {
	if req.Access != types.AccessRead && req.Access != types.AccessWrite {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "access must be read or write", nil)
	}

	// The caller redeems the token later, so it is minted for the
	// caller's own identity; acting for a target service requires
	// administering it.
	if caller.ID != req.TargetID && !v.registry.IsServiceAdmin(caller.ID, req.TargetID) {
		return nil, types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller may not act for the consent target")
	}

	consent, ok := v.store.GetConsent(req.OwnerID, req.ServiceID, req.TargetID, req.DatatypeID)
	if !ok {
		return nil, types.NewPermissionDeniedError(types.ErrCodePermissionDenied, "no consent recorded for this tuple")
	}
	if !consent.EffectiveAt(req.Access, time.Now().Unix()) {
		return nil, types.NewPermissionDeniedError(types.ErrCodePermissionDenied, "consent does not grant the requested access")
	}

	token := v.issuer.Issue(caller.ID, req.OwnerID, req.ServiceID, req.DatatypeID, req.Access)

	v.logger.WithFields(map[string]interface{}{
		"actor_id":    caller.ID,
		"owner_id":    req.OwnerID,
		"datatype_id": req.DatatypeID,
		"access":      req.Access,
	}).Debug("Access token issued")

	return token, nil
}
