package models

import "strings"

// TxType is the Stacks transaction type tag
type TxType string

const (
	TxTypeSmartContract TxType = "smart_contract"
	TxTypeContractCall  TxType = "contract_call"
	TxTypeTokenTransfer TxType = "token_transfer"
	TxTypeCoinbase      TxType = "coinbase"
)

// TxStatus is the status reported by the node for a transaction
type TxStatus string

const (
	TxStatusPending              TxStatus = "pending"
	TxStatusSuccess              TxStatus = "success"
	TxStatusAbortByResponse      TxStatus = "abort_by_response"
	TxStatusAbortByPostCondition TxStatus = "abort_by_post_condition"
)

// IsSuccess reports whether the transaction was accepted in a block
func (s TxStatus) IsSuccess() bool {
	return s == TxStatusSuccess
}

// IsFailed reports whether the status is terminal without success.
// Dropped statuses come in several flavours (dropped_replace_by_fee, dropped_stale_garbage_collect, ...).
func (s TxStatus) IsFailed() bool {
	return strings.HasPrefix(string(s), "abort_") || strings.HasPrefix(string(s), "dropped_")
}

// SmartContract is the deployment payload of a smart_contract transaction
type SmartContract struct {
	ContractID string `json:"contract_id"`
	ClarityVer *int   `json:"clarity_version,omitempty"`
}

// Transaction is a mempool or confirmed transaction as returned by the Stacks API
type Transaction struct {
	TxID          string         `json:"tx_id"`
	TxType        TxType         `json:"tx_type"`
	TxStatus      TxStatus       `json:"tx_status,omitempty"`
	SenderAddress string         `json:"sender_address,omitempty"`
	SmartContract *SmartContract `json:"smart_contract,omitempty"`
	BlockHeight   *uint64        `json:"block_height,omitempty"`
}

// ContractID returns the deployed contract id, or "" for non-deploy transactions
func (t *Transaction) ContractID() string {
	if t == nil || t.SmartContract == nil {
		return ""
	}
	return t.SmartContract.ContractID
}

// IsContractDeploy reports whether the transaction deploys a smart contract
func (t *Transaction) IsContractDeploy() bool {
	return t != nil && t.TxType == TxTypeSmartContract && t.ContractID() != ""
}

// MempoolPage is one page of the mempool listing
type MempoolPage struct {
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	Total   int            `json:"total"`
	Results []*Transaction `json:"results"`
}
