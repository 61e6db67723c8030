package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/consent"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/eventlog"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

func newTestStore() (*Store, *consent.TokenIssuer, *eventlog.Log) {
	log := logger.New("error")
	events := eventlog.New(log)
	issuer := consent.NewTokenIssuer(time.Minute, log)
	return NewStore(issuer, events, log), issuer, events
}

func TestStore_UploadDownloadRoundTrip(t *testing.T) {
	store, issuer, _ := newTestStore()
	actor := types.Actor{ID: "svc1admin"}

	writeToken := issuer.Issue("svc1admin", "p1", "svc1", "dt1", types.AccessWrite)
	record, err := store.Upload(actor, writeToken.TokenID, "p1", "svc1", "dt1", []byte(`{"bp":"120/80"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, record.RecordID)
	assert.Equal(t, "svc1admin", record.UploadedBy)

	readToken := issuer.Issue("svc1admin", "p1", "svc1", "dt1", types.AccessRead)
	results, err := store.Download(actor, readToken.TokenID, "p1", "svc1", "dt1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, record.RecordID, results[0].RecordID)
	assert.JSONEq(t, `{"bp":"120/80"}`, string(results[0].Payload))
}

func TestStore_TokenConsumedOnUpload(t *testing.T) {
	store, issuer, _ := newTestStore()
	actor := types.Actor{ID: "svc1admin"}

	token := issuer.Issue("svc1admin", "p1", "svc1", "dt1", types.AccessWrite)
	_, err := store.Upload(actor, token.TokenID, "p1", "svc1", "dt1", []byte("{}"))
	require.NoError(t, err)

	_, err = store.Upload(actor, token.TokenID, "p1", "svc1", "dt1", []byte("{}"))
	require.Error(t, err)
	assert.Equal(t, types.ErrorTypePermissionDenied, types.ErrorTypeOf(err))
}

func TestStore_ReadTokenCannotUpload(t *testing.T) {
	store, issuer, _ := newTestStore()
	actor := types.Actor{ID: "svc1admin"}

	token := issuer.Issue("svc1admin", "p1", "svc1", "dt1", types.AccessRead)
	_, err := store.Upload(actor, token.TokenID, "p1", "svc1", "dt1", []byte("{}"))
	assert.Equal(t, types.ErrorTypePermissionDenied, types.ErrorTypeOf(err))
}

func TestStore_TokenBoundToCaller(t *testing.T) {
	store, issuer, _ := newTestStore()

	token := issuer.Issue("svc1admin", "p1", "svc1", "dt1", types.AccessWrite)
	_, err := store.Upload(types.Actor{ID: "intruder"}, token.TokenID, "p1", "svc1", "dt1", []byte("{}"))
	assert.Equal(t, types.ErrorTypePermissionDenied, types.ErrorTypeOf(err))
}

func TestStore_AuditEventsCarryNoContent(t *testing.T) {
	store, issuer, events := newTestStore()
	actor := types.Actor{ID: "svc1admin"}

	token := issuer.Issue("svc1admin", "p1", "svc1", "dt1", types.AccessWrite)
	_, err := store.Upload(actor, token.TokenID, "p1", "svc1", "dt1", []byte(`{"secret":"value"}`))
	require.NoError(t, err)

	logged := events.Query(types.AuditQueryFilter{PatientID: "p1"})
	require.Len(t, logged, 1)
	assert.Equal(t, types.EventUploadUserData, logged[0].Type)
	assert.Equal(t, "{}", string(logged[0].Data))
}

func TestStore_RecordsFor(t *testing.T) {
	store, issuer, _ := newTestStore()
	actor := types.Actor{ID: "svc1admin"}

	for i := 0; i < 2; i++ {
		token := issuer.Issue("svc1admin", "svc1", "svc1", "dt1", types.AccessWrite)
		_, err := store.Upload(actor, token.TokenID, "svc1", "svc1", "dt1", []byte("{}"))
		require.NoError(t, err)
	}

	assert.Len(t, store.RecordsFor("svc1", "svc1", "dt1"), 2)
	assert.Empty(t, store.RecordsFor("svc1", "svc1", "dtX"))
}
