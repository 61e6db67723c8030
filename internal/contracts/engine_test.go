package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/directory"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/eventlog"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/permissions"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

type engineFixture struct {
	engine   *Engine
	dir      *directory.Directory
	registry *permissions.Registry
	events   *eventlog.Log
}

var (
	ownerAdmin     = types.Actor{ID: "ownerAdmin", OrgID: "ownerOrg"}
	requesterAdmin = types.Actor{ID: "requesterAdmin", OrgID: "requesterOrg"}
	stranger       = types.Actor{ID: "stranger"}
)

// newEngineFixture wires two orgs with one service each. ownerSvc owns
// datatype dt1; paymentRequired controls the owner service.
func newEngineFixture(t *testing.T, paymentRequired bool) *engineFixture {
	t.Helper()
	log := logger.New("error")
	events := eventlog.New(log)

	dir := directory.New(events, log)
	registry := permissions.NewRegistry(dir, events, log)
	dir.SetAuthorizer(registry)
	registry.Bootstrap("root")

	root := types.Actor{ID: "root"}
	for _, org := range []string{"ownerOrg", "requesterOrg"} {
		_, err := dir.RegisterOrg(root, org, org)
		require.NoError(t, err)
	}
	require.NoError(t, registry.Grant(root, types.RoleOrgAdmin, "ownerOrg", "ownerAdmin"))
	require.NoError(t, registry.Grant(root, types.RoleOrgAdmin, "requesterOrg", "requesterAdmin"))

	_, err := dir.RegisterService(ownerAdmin, "ownerSvc", "ownerOrg", "Owner Service", paymentRequired)
	require.NoError(t, err)
	_, err = dir.RegisterService(requesterAdmin, "requesterSvc", "requesterOrg", "Requester Service", false)
	require.NoError(t, err)
	_, err = dir.RegisterDatatype(ownerAdmin, "dt1", "ownerSvc", "Vitals")
	require.NoError(t, err)

	return &engineFixture{
		engine:   NewEngine(registry, dir, events, log),
		dir:      dir,
		registry: registry,
		events:   events,
	}
}

func createRequest() CreateContractRequest {
	return CreateContractRequest{
		ContractID:         "c1",
		OwnerOrgID:         "ownerOrg",
		OwnerServiceID:     "ownerSvc",
		RequesterOrgID:     "requesterOrg",
		RequesterServiceID: "requesterSvc",
		Terms:              map[string]string{"price": "100"},
	}
}

// advance drives c1 from requested up to the named state.
func (f *engineFixture) advance(t *testing.T, target types.ContractState) *types.Contract {
	t.Helper()
	contract, err := f.engine.Create(ownerAdmin, createRequest())
	require.NoError(t, err)
	if target == types.ContractStateRequested {
		return contract
	}

	contract, err = f.engine.Sign(requesterAdmin, "c1")
	require.NoError(t, err)
	if target == types.ContractStateSigned {
		return contract
	}

	contract, err = f.engine.Pay(requesterAdmin, "c1")
	require.NoError(t, err)
	if target == types.ContractStatePaymentDone {
		return contract
	}

	contract, err = f.engine.VerifyPayment(ownerAdmin, "c1")
	require.NoError(t, err)
	require.Equal(t, target, types.ContractStatePaymentVerified)
	return contract
}

func TestEngine_Create(t *testing.T) {
	f := newEngineFixture(t, true)

	contract, err := f.engine.Create(ownerAdmin, createRequest())
	require.NoError(t, err)
	assert.Equal(t, types.ContractStateRequested, contract.State)
	assert.True(t, contract.PaymentRequired)
	require.Len(t, contract.Details, 1)
	assert.Equal(t, types.DetailTypeRequest, contract.Details[0].DetailType)

	events := f.events.Query(types.AuditQueryFilter{ContractID: "c1"})
	require.Len(t, events, 1)
	assert.Equal(t, types.EventCreateContract, events[0].Type)
	assert.ElementsMatch(t, []string{"ownerOrg", "requesterOrg"}, events[0].ContractOrgIDs)
}

func TestEngine_Create_GeneratesID(t *testing.T) {
	f := newEngineFixture(t, false)

	req := createRequest()
	req.ContractID = ""
	contract, err := f.engine.Create(ownerAdmin, req)
	require.NoError(t, err)
	assert.NotEmpty(t, contract.ContractID)
}

func TestEngine_Create_Rejections(t *testing.T) {
	f := newEngineFixture(t, false)

	// requester-side admins may not create
	_, err := f.engine.Create(requesterAdmin, createRequest())
	assert.Equal(t, types.ErrorTypeUnauthorized, types.ErrorTypeOf(err))

	// unknown requester service
	req := createRequest()
	req.RequesterServiceID = "ghostSvc"
	_, err = f.engine.Create(ownerAdmin, req)
	assert.Equal(t, types.ErrorTypeNotFound, types.ErrorTypeOf(err))

	// service bound to the wrong org
	req = createRequest()
	req.RequesterOrgID = "ownerOrg"
	_, err = f.engine.Create(ownerAdmin, req)
	assert.Equal(t, types.ErrorTypeValidation, types.ErrorTypeOf(err))

	// duplicate ID
	_, err = f.engine.Create(ownerAdmin, createRequest())
	require.NoError(t, err)
	_, err = f.engine.Create(ownerAdmin, createRequest())
	assert.Equal(t, types.ErrorTypeValidation, types.ErrorTypeOf(err))
}

func TestEngine_SignPayVerifyFlow(t *testing.T) {
	f := newEngineFixture(t, true)

	contract := f.advance(t, types.ContractStatePaymentVerified)
	assert.True(t, contract.PaymentVerified)
	assert.Equal(t, types.ContractStatePaymentVerified, contract.State)

	// details: request, sign, payment, verify
	require.Len(t, contract.Details, 4)
	assert.Equal(t, types.DetailTypeVerify, contract.Details[3].DetailType)
}

func TestEngine_Sign_WrongParty(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateRequested)

	_, err := f.engine.Sign(ownerAdmin, "c1")
	assert.Equal(t, types.ErrorTypeUnauthorized, types.ErrorTypeOf(err))

	_, err = f.engine.Sign(stranger, "c1")
	assert.Equal(t, types.ErrorTypeUnauthorized, types.ErrorTypeOf(err))
}

func TestEngine_Sign_OutOfOrder(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateSigned)

	// signing twice
	_, err := f.engine.Sign(requesterAdmin, "c1")
	assert.Equal(t, types.ErrorTypeInvalidState, types.ErrorTypeOf(err))

	// verifying before payment
	_, err = f.engine.VerifyPayment(ownerAdmin, "c1")
	assert.Equal(t, types.ErrorTypeInvalidState, types.ErrorTypeOf(err))
}

func TestEngine_RejectedCallAppendsNothing(t *testing.T) {
	f := newEngineFixture(t, false)
	contract := f.advance(t, types.ContractStateRequested)

	detailsBefore := len(contract.Details)
	eventsBefore := f.events.Len()

	_, err := f.engine.Pay(requesterAdmin, "c1")
	require.Error(t, err)

	after, err := f.engine.Get("c1")
	require.NoError(t, err)
	assert.Len(t, after.Details, detailsBefore)
	assert.Equal(t, eventsBefore, f.events.Len())
}

func TestEngine_ChangeTerms(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateSigned)

	// either party may renegotiate until termination
	contract, err := f.engine.ChangeTerms(requesterAdmin, "c1", map[string]string{"price": "80"})
	require.NoError(t, err)
	assert.Equal(t, "80", contract.Terms["price"])
	assert.Equal(t, types.ContractStateSigned, contract.State)

	_, err = f.engine.ChangeTerms(stranger, "c1", map[string]string{"price": "0"})
	assert.Equal(t, types.ErrorTypeUnauthorized, types.ErrorTypeOf(err))

	_, err = f.engine.Terminate(ownerAdmin, "c1")
	require.NoError(t, err)
	_, err = f.engine.ChangeTerms(ownerAdmin, "c1", map[string]string{"price": "90"})
	assert.Equal(t, types.ErrorTypeInvalidState, types.ErrorTypeOf(err))
}

func TestEngine_GrantPermission_PaymentRequired(t *testing.T) {
	f := newEngineFixture(t, true)
	f.advance(t, types.ContractStateSigned)

	// payment-required contracts need verification first
	_, err := f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 3)
	assert.Equal(t, types.ErrorTypeInvalidState, types.ErrorTypeOf(err))

	_, err = f.engine.Pay(requesterAdmin, "c1")
	require.NoError(t, err)
	_, err = f.engine.VerifyPayment(ownerAdmin, "c1")
	require.NoError(t, err)

	contract, err := f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 3)
	require.NoError(t, err)
	assert.Equal(t, types.ContractStateDownloadReady, contract.State)
	assert.Equal(t, 3, contract.MaxNumDownload)
	assert.True(t, contract.DatatypePermitted("dt1"))
}

func TestEngine_GrantPermission_FreeContract(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateRequested)

	// a free contract still needs a signature first
	_, err := f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 2)
	assert.Equal(t, types.ErrorTypeInvalidState, types.ErrorTypeOf(err))

	_, err = f.engine.Sign(requesterAdmin, "c1")
	require.NoError(t, err)

	contract, err := f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 2)
	require.NoError(t, err)
	assert.Equal(t, types.ContractStateDownloadReady, contract.State)
}

func TestEngine_GrantPermission_Rejections(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateSigned)

	_, err := f.engine.GrantPermission(requesterAdmin, "c1", "dt1", 2)
	assert.Equal(t, types.ErrorTypeUnauthorized, types.ErrorTypeOf(err))

	_, err = f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 0)
	assert.Equal(t, types.ErrorTypeValidation, types.ErrorTypeOf(err))

	_, err = f.engine.GrantPermission(ownerAdmin, "c1", "dtX", 2)
	assert.Equal(t, types.ErrorTypeNotFound, types.ErrorTypeOf(err))
}

func TestEngine_GrantPermission_FirstGrantFixesCap(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateSigned)

	_, err := f.dir.RegisterDatatype(ownerAdmin, "dt2", "ownerSvc", "Labs")
	require.NoError(t, err)

	contract, err := f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, contract.MaxNumDownload)

	_, err = f.engine.Download(requesterAdmin, "c1", "dt1")
	require.NoError(t, err)

	// a later grant adds the datatype but keeps cap and counter
	contract, err = f.engine.GrantPermission(ownerAdmin, "c1", "dt2", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, contract.MaxNumDownload)
	assert.Equal(t, 1, contract.NumDownload)
	assert.True(t, contract.DatatypePermitted("dt2"))
}

func TestEngine_DownloadQuota(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateSigned)

	_, err := f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 3)
	require.NoError(t, err)

	contract, err := f.engine.Download(requesterAdmin, "c1", "dt1")
	require.NoError(t, err)
	assert.Equal(t, 1, contract.NumDownload)
	assert.Equal(t, types.ContractStateDownloadReady, contract.State)

	contract, err = f.engine.Download(requesterAdmin, "c1", "dt1")
	require.NoError(t, err)
	assert.Equal(t, 2, contract.NumDownload)
	assert.Equal(t, types.ContractStateDownloadReady, contract.State)

	// third download exhausts the cap exactly
	contract, err = f.engine.Download(requesterAdmin, "c1", "dt1")
	require.NoError(t, err)
	assert.Equal(t, 3, contract.NumDownload)
	assert.Equal(t, types.ContractStateDownloadDone, contract.State)

	// the fourth is rejected and the counter stays at the cap
	_, err = f.engine.Download(requesterAdmin, "c1", "dt1")
	require.Error(t, err)
	assert.Equal(t, types.ErrorTypeInvalidState, types.ErrorTypeOf(err))

	var sharingErr *types.SharingError
	require.ErrorAs(t, err, &sharingErr)
	assert.Equal(t, types.ErrCodeDownloadExhausted, sharingErr.Code)

	contract, err = f.engine.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, 3, contract.NumDownload)
}

func TestEngine_GrantAfterExhaustionDoesNotReopen(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateSigned)

	_, err := f.dir.RegisterDatatype(ownerAdmin, "dt2", "ownerSvc", "Labs")
	require.NoError(t, err)

	_, err = f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 1)
	require.NoError(t, err)

	contract, err := f.engine.Download(requesterAdmin, "c1", "dt1")
	require.NoError(t, err)
	require.Equal(t, types.ContractStateDownloadDone, contract.State)

	// granting another datatype after the cap is consumed must not
	// reopen downloads
	contract, err = f.engine.GrantPermission(ownerAdmin, "c1", "dt2", 5)
	require.NoError(t, err)
	assert.Equal(t, types.ContractStateDownloadDone, contract.State)
	assert.Equal(t, 1, contract.MaxNumDownload)
	assert.True(t, contract.DatatypePermitted("dt2"))

	_, err = f.engine.Download(requesterAdmin, "c1", "dt2")
	require.Error(t, err)
	assert.Equal(t, types.ErrorTypeInvalidState, types.ErrorTypeOf(err))

	var sharingErr *types.SharingError
	require.ErrorAs(t, err, &sharingErr)
	assert.Equal(t, types.ErrCodeDownloadExhausted, sharingErr.Code)

	contract, err = f.engine.Get("c1")
	require.NoError(t, err)
	assert.LessOrEqual(t, contract.NumDownload, contract.MaxNumDownload)
}

func TestEngine_Download_Rejections(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateSigned)

	_, err := f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 1)
	require.NoError(t, err)

	// owner-side admins may not download
	_, err = f.engine.Download(ownerAdmin, "c1", "dt1")
	assert.Equal(t, types.ErrorTypeUnauthorized, types.ErrorTypeOf(err))

	// unpermitted datatype
	_, err = f.engine.Download(requesterAdmin, "c1", "dtX")
	assert.Equal(t, types.ErrorTypePermissionDenied, types.ErrorTypeOf(err))
}

func TestEngine_DownloadEventCarriesNoContent(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateSigned)

	_, err := f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 1)
	require.NoError(t, err)
	_, err = f.engine.Download(requesterAdmin, "c1", "dt1")
	require.NoError(t, err)

	events := f.events.Query(types.AuditQueryFilter{ContractID: "c1"})
	last := events[len(events)-1]
	assert.Equal(t, types.EventDownloadOwnerDataAsRequester, last.Type)
	assert.Equal(t, "{}", string(last.Data))
}

func TestEngine_TerminateFromEveryState(t *testing.T) {
	states := []types.ContractState{
		types.ContractStateRequested,
		types.ContractStateSigned,
		types.ContractStatePaymentDone,
		types.ContractStatePaymentVerified,
	}

	for _, state := range states {
		t.Run(string(state), func(t *testing.T) {
			f := newEngineFixture(t, true)
			f.advance(t, state)

			contract, err := f.engine.Terminate(requesterAdmin, "c1")
			require.NoError(t, err)
			assert.Equal(t, types.ContractStateTerminated, contract.State)
			assert.Equal(t, "requesterAdmin", contract.TerminatedBy)
		})
	}
}

func TestEngine_TerminateBlocksFurtherTransitions(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateSigned)

	_, err := f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 5)
	require.NoError(t, err)
	_, err = f.engine.Terminate(ownerAdmin, "c1")
	require.NoError(t, err)

	_, err = f.engine.Download(requesterAdmin, "c1", "dt1")
	assert.Equal(t, types.ErrorTypeInvalidState, types.ErrorTypeOf(err))
	_, err = f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 5)
	assert.Equal(t, types.ErrorTypeInvalidState, types.ErrorTypeOf(err))
}

func TestEngine_TerminateIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateRequested)

	first, err := f.engine.Terminate(ownerAdmin, "c1")
	require.NoError(t, err)
	detailsAfterFirst := len(first.Details)
	eventsAfterFirst := f.events.Len()

	// the second terminate succeeds but records nothing new
	again, err := f.engine.Terminate(requesterAdmin, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.ContractStateTerminated, again.State)
	assert.Equal(t, "ownerAdmin", again.TerminatedBy)
	assert.Len(t, again.Details, detailsAfterFirst)
	assert.Equal(t, eventsAfterFirst, f.events.Len())
}

func TestEngine_ReturnsIsolatedSnapshots(t *testing.T) {
	f := newEngineFixture(t, false)
	f.advance(t, types.ContractStateSigned)

	_, err := f.engine.GrantPermission(ownerAdmin, "c1", "dt1", 2)
	require.NoError(t, err)

	before, err := f.engine.Get("c1")
	require.NoError(t, err)
	detailsBefore := len(before.Details)

	_, err = f.engine.Download(requesterAdmin, "c1", "dt1")
	require.NoError(t, err)

	// the snapshot taken before the download does not change under it
	assert.Equal(t, 0, before.NumDownload)
	assert.Len(t, before.Details, detailsBefore)

	// and writing through a snapshot does not reach the engine
	before.Terms["price"] = "0"
	before.PermittedDatatypes["dtX"] = true
	current, err := f.engine.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "100", current.Terms["price"])
	assert.False(t, current.DatatypePermitted("dtX"))
}

func TestEngine_GetUnknownContract(t *testing.T) {
	f := newEngineFixture(t, false)

	_, err := f.engine.Get("ghost")
	assert.Equal(t, types.ErrorTypeNotFound, types.ErrorTypeOf(err))

	_, err = f.engine.Sign(requesterAdmin, "ghost")
	assert.Equal(t, types.ErrorTypeNotFound, types.ErrorTypeOf(err))
}
