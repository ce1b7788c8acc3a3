package models

import "time"

// ContractEventType classifies lifecycle events of a tracked contract deployment
type ContractEventType string

const (
	EventContractDetected  ContractEventType = "contract_detected"
	EventContractConfirmed ContractEventType = "contract_confirmed"
	EventContractFailed    ContractEventType = "contract_failed"
	EventTrackingAbandoned ContractEventType = "tracking_abandoned"
)

// ContractEvent is published to downstream consumers when a tracked deployment changes state
type ContractEvent struct {
	Type       ContractEventType `json:"type"`
	TxID       string            `json:"tx_id"`
	ContractID string            `json:"contract_id"`
	Status     TxStatus          `json:"status,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}
