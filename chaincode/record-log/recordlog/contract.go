package recordlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// SmartContract anchors audit event digests on the ledger. The sharing
// service keeps the full event bodies; the chain holds a tamper-evident
// digest per event so an auditor can detect rewritten history.
type SmartContract struct {
	contractapi.Contract
}

// EventAnchor is one anchored audit event. Seq mirrors the sharing
// service's monotonic sequence; Digest covers the full event body.
type EventAnchor struct {
	Seq       uint64 `json:"seq"`
	EventType string `json:"event_type"`
	CallerID  string `json:"caller_id"`
	ServiceID string `json:"service_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Digest    string `json:"digest"`
	Signature string `json:"signature"`
	TxID      string `json:"tx_id"`
}

// InitLedger records the anchor chain bootstrap entry.
func (s *SmartContract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	callerID, err := s.getCallerIdentity(ctx)
	if err != nil {
		callerID = "system"
	}

	anchor := EventAnchor{
		Seq:       0,
		EventType: "anchor_init",
		CallerID:  callerID,
		Timestamp: 0,
		Digest:    "",
		TxID:      ctx.GetStub().GetTxID(),
	}
	anchor.Signature = s.anchorSignature(anchor)

	anchorJSON, err := json.Marshal(anchor)
	if err != nil {
		return err
	}

	return ctx.GetStub().PutState(s.anchorKey(0), anchorJSON)
}

// AppendEvent anchors a single audit event digest. Sequence numbers
// must be strictly increasing and never reused.
func (s *SmartContract) AppendEvent(ctx contractapi.TransactionContextInterface, seq uint64, eventType, callerID, serviceID string, timestamp int64, digest string) error {
	if seq == 0 {
		return fmt.Errorf("sequence must be positive")
	}
	if digest == "" {
		return fmt.Errorf("digest is required")
	}

	existing, err := ctx.GetStub().GetState(s.anchorKey(seq))
	if err != nil {
		return fmt.Errorf("failed to read anchor from world state: %v", err)
	}
	if existing != nil {
		return fmt.Errorf("anchor for sequence %d already exists", seq)
	}

	anchor := EventAnchor{
		Seq:       seq,
		EventType: eventType,
		CallerID:  callerID,
		ServiceID: serviceID,
		Timestamp: timestamp,
		Digest:    digest,
		TxID:      ctx.GetStub().GetTxID(),
	}
	anchor.Signature = s.anchorSignature(anchor)

	anchorJSON, err := json.Marshal(anchor)
	if err != nil {
		return err
	}

	return ctx.GetStub().PutState(s.anchorKey(seq), anchorJSON)
}

// GetEvent retrieves an anchored event by sequence number.
func (s *SmartContract) GetEvent(ctx contractapi.TransactionContextInterface, seq uint64) (*EventAnchor, error) {
	anchorJSON, err := ctx.GetStub().GetState(s.anchorKey(seq))
	if err != nil {
		return nil, fmt.Errorf("failed to read anchor from world state: %v", err)
	}
	if anchorJSON == nil {
		return nil, fmt.Errorf("anchor for sequence %d does not exist", seq)
	}

	var anchor EventAnchor
	if err := json.Unmarshal(anchorJSON, &anchor); err != nil {
		return nil, err
	}

	return &anchor, nil
}

// GetEventRange retrieves anchors for a sequence range, inclusive on
// both ends. The upper range key is endSeq+1, so the maximum uint64 is
// rejected rather than wrapped to zero.
func (s *SmartContract) GetEventRange(ctx contractapi.TransactionContextInterface, startSeq, endSeq uint64) ([]*EventAnchor, error) {
	if endSeq < startSeq {
		return nil, fmt.Errorf("invalid range: end %d before start %d", endSeq, startSeq)
	}
	if endSeq == math.MaxUint64 {
		return nil, fmt.Errorf("end sequence %d out of range", endSeq)
	}

	resultsIterator, err := ctx.GetStub().GetStateByRange(s.anchorKey(startSeq), s.anchorKey(endSeq+1))
	if err != nil {
		return nil, fmt.Errorf("failed to execute range query: %v", err)
	}
	defer resultsIterator.Close()

	var anchors []*EventAnchor
	for resultsIterator.HasNext() {
		queryResponse, err := resultsIterator.Next()
		if err != nil {
			return nil, err
		}

		var anchor EventAnchor
		if err := json.Unmarshal(queryResponse.Value, &anchor); err != nil {
			return nil, err
		}

		anchors = append(anchors, &anchor)
	}

	return anchors, nil
}

// VerifyEventIntegrity checks that an anchor's stored signature matches
// its contents, and that a caller-supplied digest matches the anchored
// one.
func (s *SmartContract) VerifyEventIntegrity(ctx contractapi.TransactionContextInterface, seq uint64, digest string) (bool, error) {
	anchor, err := s.GetEvent(ctx, seq)
	if err != nil {
		return false, err
	}

	if anchor.Signature != s.anchorSignature(*anchor) {
		return false, nil
	}

	return anchor.Digest == digest, nil
}

// Helper functions

// anchorKey is zero-padded so lexical range queries follow sequence
// order.
func (s *SmartContract) anchorKey(seq uint64) string {
	return fmt.Sprintf("anchor_%020d", seq)
}

// anchorSignature hashes the anchor fields excluding the signature
// itself.
func (s *SmartContract) anchorSignature(anchor EventAnchor) string {
	input := fmt.Sprintf("%d|%s|%s|%s|%d|%s|%s",
		anchor.Seq,
		anchor.EventType,
		anchor.CallerID,
		anchor.ServiceID,
		anchor.Timestamp,
		anchor.Digest,
		anchor.TxID,
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// getCallerIdentity gets the identity of the transaction caller
func (s *SmartContract) getCallerIdentity(ctx contractapi.TransactionContextInterface) (string, error) {
	clientIdentity := ctx.GetClientIdentity()
	id, err := clientIdentity.GetID()
	if err != nil {
		return "", fmt.Errorf("failed to get client ID: %v", err)
	}
	return id, nil
}
