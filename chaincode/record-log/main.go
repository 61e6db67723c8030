package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/blockchainconsent/chaincode/record-log/recordlog"
)

func main() {
	recordLogChaincode, err := contractapi.NewChaincode(&recordlog.SmartContract{})
	if err != nil {
		log.Panicf("Error creating RecordLog chaincode: %v", err)
	}

	if err := recordLogChaincode.Start(); err != nil {
		log.Panicf("Error starting RecordLog chaincode: %v", err)
	}
}
