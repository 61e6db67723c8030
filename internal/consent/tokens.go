package consent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

// TokenIssuer mints and redeems short-lived access tokens. A token
// encapsulates one pre-validated consent decision for one (actor,
// owner, service, datatype, access) tuple and is consumed on first
// successful exchange.
type TokenIssuer struct {
	mu     sync.Mutex
	tokens map[string]*types.AccessToken
	ttl    time.Duration
	logger *logger.Logger
}

// NewTokenIssuer creates a token issuer with the given validity window.
func NewTokenIssuer(ttl time.Duration, log *logger.Logger) *TokenIssuer {
	return &TokenIssuer{
		tokens: make(map[string]*types.AccessToken),
		ttl:    ttl,
		logger: log,
	}
}

// Issue mints a fresh token for the tuple. Every validation call mints
// a new token; tokens are never shared across scopes.
func (t *TokenIssuer) Issue(actorID, ownerID, serviceID, datatypeID string, access types.AccessKind) *types.AccessToken {
	token := &types.AccessToken{
		TokenID:    uuid.New().String(),
		ActorID:    actorID,
		OwnerID:    ownerID,
		ServiceID:  serviceID,
		DatatypeID: datatypeID,
		Access:     access,
		ExpiresAt:  time.Now().Add(t.ttl).Unix(),
	}

	t.mu.Lock()
	t.tokens[token.TokenID] = token
	t.mu.Unlock()

	return token
}

// Exchange redeems a token for the requested scope. The token is
// consumed atomically on success; a mismatched scope or expired token
// leaves nothing redeemable. A token issued for read cannot authorize
// write, and vice versa.
func (t *TokenIssuer) Exchange(tokenID, actorID, ownerID, serviceID, datatypeID string, access types.AccessKind) (*types.AccessToken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	token, ok := t.tokens[tokenID]
	if !ok {
		return nil, types.NewPermissionDeniedError(types.ErrCodeTokenInvalid, "token not found or already used")
	}

	if time.Now().Unix() >= token.ExpiresAt {
		delete(t.tokens, tokenID)
		return nil, types.NewPermissionDeniedError(types.ErrCodeTokenInvalid, "token expired")
	}

	if token.ActorID != actorID || token.OwnerID != ownerID ||
		token.ServiceID != serviceID || token.DatatypeID != datatypeID ||
		token.Access != access {
		return nil, types.NewPermissionDeniedError(types.ErrCodeTokenInvalid, "token scope does not match request")
	}

	delete(t.tokens, tokenID)
	return token, nil
}
