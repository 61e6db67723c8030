package recordlog

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTransactionContext provides a mock transaction context for testing
type MockTransactionContext struct {
	mock.Mock
}

func (m *MockTransactionContext) GetStub() shim.ChaincodeStubInterface {
	args := m.Called()
	return args.Get(0).(shim.ChaincodeStubInterface)
}

func (m *MockTransactionContext) GetClientIdentity() cid.ClientIdentity {
	args := m.Called()
	return args.Get(0).(cid.ClientIdentity)
}

// MockChaincodeStub provides a mock chaincode stub backed by an
// in-memory state map.
type MockChaincodeStub struct {
	shim.ChaincodeStubInterface
	mock.Mock
	State map[string][]byte
}

func (m *MockChaincodeStub) GetState(key string) ([]byte, error) {
	if value, exists := m.State[key]; exists {
		return value, nil
	}
	return nil, nil
}

func (m *MockChaincodeStub) PutState(key string, value []byte) error {
	if m.State == nil {
		m.State = make(map[string][]byte)
	}
	m.State[key] = value
	return nil
}

func (m *MockChaincodeStub) GetStateByRange(startKey, endKey string) (shim.StateQueryIteratorInterface, error) {
	args := m.Called(startKey, endKey)
	return args.Get(0).(shim.StateQueryIteratorInterface), args.Error(1)
}

func (m *MockChaincodeStub) GetTxID() string {
	args := m.Called()
	return args.String(0)
}

// MockClientIdentity provides a mock client identity for testing
type MockClientIdentity struct {
	cid.ClientIdentity
	mock.Mock
}

func (m *MockClientIdentity) GetID() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

// MockStateQueryIterator provides a mock state query iterator for testing
type MockStateQueryIterator struct {
	mock.Mock
	Results []*queryresult.KV
	Index   int
}

func (m *MockStateQueryIterator) HasNext() bool {
	return m.Index < len(m.Results)
}

func (m *MockStateQueryIterator) Next() (*queryresult.KV, error) {
	if m.Index >= len(m.Results) {
		return nil, fmt.Errorf("no more results")
	}
	result := m.Results[m.Index]
	m.Index++
	return result, nil
}

func (m *MockStateQueryIterator) Close() error {
	return nil
}

func newTestContext() (*MockTransactionContext, *MockChaincodeStub) {
	ctx := new(MockTransactionContext)
	stub := &MockChaincodeStub{State: make(map[string][]byte)}

	ctx.On("GetStub").Return(stub)
	stub.On("GetTxID").Return("tx_123")

	return ctx, stub
}

func TestSmartContract_InitLedger(t *testing.T) {
	contract := new(SmartContract)
	ctx, stub := newTestContext()

	clientIdentity := new(MockClientIdentity)
	ctx.On("GetClientIdentity").Return(clientIdentity)
	clientIdentity.On("GetID").Return("system", nil)

	err := contract.InitLedger(ctx)
	assert.NoError(t, err)

	stored, ok := stub.State[contract.anchorKey(0)]
	require.True(t, ok)

	var anchor EventAnchor
	require.NoError(t, json.Unmarshal(stored, &anchor))
	assert.Equal(t, "anchor_init", anchor.EventType)
	assert.Equal(t, "system", anchor.CallerID)
}

func TestSmartContract_AppendAndGetEvent(t *testing.T) {
	contract := new(SmartContract)
	ctx, _ := newTestContext()

	err := contract.AppendEvent(ctx, 1, "createContract", "org1admin", "svc1", 1700000000, "deadbeef")
	require.NoError(t, err)

	anchor, err := contract.GetEvent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), anchor.Seq)
	assert.Equal(t, "createContract", anchor.EventType)
	assert.Equal(t, "org1admin", anchor.CallerID)
	assert.Equal(t, "svc1", anchor.ServiceID)
	assert.Equal(t, "deadbeef", anchor.Digest)
	assert.Equal(t, "tx_123", anchor.TxID)
	assert.NotEmpty(t, anchor.Signature)
}

func TestSmartContract_AppendEvent_Validation(t *testing.T) {
	contract := new(SmartContract)
	ctx, _ := newTestContext()

	err := contract.AppendEvent(ctx, 0, "createContract", "org1admin", "svc1", 1700000000, "deadbeef")
	assert.Error(t, err)

	err = contract.AppendEvent(ctx, 1, "createContract", "org1admin", "svc1", 1700000000, "")
	assert.Error(t, err)
}

func TestSmartContract_AppendEvent_DuplicateSequence(t *testing.T) {
	contract := new(SmartContract)
	ctx, _ := newTestContext()

	err := contract.AppendEvent(ctx, 1, "createContract", "org1admin", "svc1", 1700000000, "deadbeef")
	require.NoError(t, err)

	err = contract.AppendEvent(ctx, 1, "signContract", "org2admin", "svc2", 1700000100, "cafebabe")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestSmartContract_GetEvent_NotFound(t *testing.T) {
	contract := new(SmartContract)
	ctx, _ := newTestContext()

	_, err := contract.GetEvent(ctx, 99)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestSmartContract_VerifyEventIntegrity(t *testing.T) {
	contract := new(SmartContract)
	ctx, stub := newTestContext()

	err := contract.AppendEvent(ctx, 1, "downloadOwnerDataAsRequester", "org2admin", "svc1", 1700000000, "deadbeef")
	require.NoError(t, err)

	ok, err := contract.VerifyEventIntegrity(ctx, 1, "deadbeef")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = contract.VerifyEventIntegrity(ctx, 1, "cafebabe")
	require.NoError(t, err)
	assert.False(t, ok)

	// Tampering with the stored anchor invalidates the signature.
	var anchor EventAnchor
	key := contract.anchorKey(1)
	require.NoError(t, json.Unmarshal(stub.State[key], &anchor))
	anchor.CallerID = "intruder"
	tampered, err := json.Marshal(anchor)
	require.NoError(t, err)
	stub.State[key] = tampered

	ok, err = contract.VerifyEventIntegrity(ctx, 1, "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSmartContract_GetEventRange(t *testing.T) {
	contract := new(SmartContract)
	ctx, stub := newTestContext()

	for seq := uint64(1); seq <= 3; seq++ {
		err := contract.AppendEvent(ctx, seq, "putConsentPatientData", "patient1", "svc1", 1700000000+int64(seq), fmt.Sprintf("digest%d", seq))
		require.NoError(t, err)
	}

	iterator := &MockStateQueryIterator{}
	for seq := uint64(1); seq <= 2; seq++ {
		key := contract.anchorKey(seq)
		iterator.Results = append(iterator.Results, &queryresult.KV{
			Key:   key,
			Value: stub.State[key],
		})
	}
	stub.On("GetStateByRange", contract.anchorKey(1), contract.anchorKey(3)).Return(iterator, nil)

	anchors, err := contract.GetEventRange(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, anchors, 2)
	assert.Equal(t, uint64(1), anchors[0].Seq)
	assert.Equal(t, uint64(2), anchors[1].Seq)

	_, err = contract.GetEventRange(ctx, 5, 2)
	assert.Error(t, err)

	// the maximum sequence would wrap the exclusive upper key to zero
	_, err = contract.GetEventRange(ctx, 1, math.MaxUint64)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}
