package starknet

import (
	"errors"
	"fmt"
)

// Call is a single Starknet call descriptor. Bundles of calls are produced
// by the Typhoon collaborator and executed atomically by a signing context.
type Call struct {
	ContractAddress string   `json:"contract_address"`
	EntryPoint      string   `json:"entry_point"`
	Calldata        []string `json:"calldata"`
}

// ErrUserRejected is returned by a signing context when the wallet owner
// declined to sign. Callers distinguish this from infrastructure failures.
var ErrUserRejected = errors.New("transaction rejected by user")

// RPCError is a JSON-RPC error returned by a Starknet node or the wallet
// signer service.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("starknet rpc error %d: %s", e.Code, e.Message)
}

// TransactionReceipt is the subset of the starknet_getTransactionReceipt
// response we care about.
type TransactionReceipt struct {
	TransactionHash string `json:"transaction_hash"`
	ExecutionStatus string `json:"execution_status"`
	FinalityStatus  string `json:"finality_status"`
	RevertReason    string `json:"revert_reason,omitempty"`
}
