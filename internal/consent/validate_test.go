package consent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

func newValidatorFixture(t *testing.T) (*consentFixture, *AccessValidator, *TokenIssuer) {
	t.Helper()
	f := newConsentFixture(t)
	issuer := NewTokenIssuer(time.Minute, logger.New("error"))
	validator := NewAccessValidator(f.store, issuer, f.registry, logger.New("error"))
	return f, validator, issuer
}

func validationRequest(access types.AccessKind) AccessValidationRequest {
	return AccessValidationRequest{
		OwnerID:    "p1",
		ServiceID:  "svc1",
		TargetID:   "svc1",
		DatatypeID: "dt1",
		Access:     access,
	}
}

func TestAccessValidator_IssuesScopedToken(t *testing.T) {
	f, validator, issuer := newValidatorFixture(t)

	_, err := f.store.PutPatientConsent(types.Actor{ID: "p1"}, patientConsent(types.ConsentOptionRead))
	require.NoError(t, err)

	// alice administers svc1, the consent target
	token, err := validator.ValidateAccess(types.Actor{ID: "alice"}, validationRequest(types.AccessRead))
	require.NoError(t, err)
	assert.Equal(t, "alice", token.ActorID)
	assert.Equal(t, "p1", token.OwnerID)
	assert.Equal(t, types.AccessRead, token.Access)

	// the token redeems for exactly the validated tuple
	_, err = issuer.Exchange(token.TokenID, "alice", "p1", "svc1", "dt1", types.AccessRead)
	assert.NoError(t, err)
}

func TestAccessValidator_RepeatValidationMintsFreshTokens(t *testing.T) {
	f, validator, _ := newValidatorFixture(t)

	_, err := f.store.PutPatientConsent(types.Actor{ID: "p1"}, patientConsent(types.ConsentOptionRead))
	require.NoError(t, err)

	first, err := validator.ValidateAccess(types.Actor{ID: "alice"}, validationRequest(types.AccessRead))
	require.NoError(t, err)
	second, err := validator.ValidateAccess(types.Actor{ID: "alice"}, validationRequest(types.AccessRead))
	require.NoError(t, err)

	assert.NotEqual(t, first.TokenID, second.TokenID)
}

func TestAccessValidator_CallerMustActForTarget(t *testing.T) {
	f, validator, _ := newValidatorFixture(t)

	_, err := f.store.PutPatientConsent(types.Actor{ID: "p1"}, patientConsent(types.ConsentOptionRead))
	require.NoError(t, err)

	_, err = validator.ValidateAccess(types.Actor{ID: "stranger"}, validationRequest(types.AccessRead))
	assert.Equal(t, types.ErrorTypeUnauthorized, types.ErrorTypeOf(err))
}

func TestAccessValidator_NoConsent(t *testing.T) {
	_, validator, _ := newValidatorFixture(t)

	_, err := validator.ValidateAccess(types.Actor{ID: "alice"}, validationRequest(types.AccessRead))
	assert.Equal(t, types.ErrorTypePermissionDenied, types.ErrorTypeOf(err))
}

func TestAccessValidator_WriteConsentDoesNotGrantRead(t *testing.T) {
	f, validator, _ := newValidatorFixture(t)

	_, err := f.store.PutPatientConsent(types.Actor{ID: "p1"}, patientConsent(types.ConsentOptionWrite))
	require.NoError(t, err)

	_, err = validator.ValidateAccess(types.Actor{ID: "alice"}, validationRequest(types.AccessRead))
	assert.Equal(t, types.ErrorTypePermissionDenied, types.ErrorTypeOf(err))

	_, err = validator.ValidateAccess(types.Actor{ID: "alice"}, validationRequest(types.AccessWrite))
	assert.NoError(t, err)
}

func TestAccessValidator_DeniedConsent(t *testing.T) {
	f, validator, _ := newValidatorFixture(t)

	_, err := f.store.PutPatientConsent(types.Actor{ID: "p1"}, patientConsent(types.ConsentOptionDeny))
	require.NoError(t, err)

	_, err = validator.ValidateAccess(types.Actor{ID: "alice"}, validationRequest(types.AccessRead))
	assert.Equal(t, types.ErrorTypePermissionDenied, types.ErrorTypeOf(err))
}

func TestAccessValidator_ExpiredConsent(t *testing.T) {
	f, validator, _ := newValidatorFixture(t)

	req := patientConsent(types.ConsentOptionRead)
	req.Expiration = time.Now().Unix() - 60
	_, err := f.store.PutPatientConsent(types.Actor{ID: "p1"}, req)
	require.NoError(t, err)

	_, err = validator.ValidateAccess(types.Actor{ID: "alice"}, validationRequest(types.AccessRead))
	assert.Equal(t, types.ErrorTypePermissionDenied, types.ErrorTypeOf(err))
}

func TestAccessValidator_InvalidAccessKind(t *testing.T) {
	_, validator, _ := newValidatorFixture(t)

	_, err := validator.ValidateAccess(types.Actor{ID: "alice"}, validationRequest(types.AccessKind("admin")))
	assert.Equal(t, types.ErrorTypeValidation, types.ErrorTypeOf(err))
}
