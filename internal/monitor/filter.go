// File: internal/monitor/filter.go
package monitor

import (
	"strings"

	"github.com/smartdevs17/stacks-mempool-notifier/internal/models"
)

// DefaultContractSuffix is the naming convention of the launchpad we follow
const DefaultContractSuffix = "stxcity"

// ContractMatcher selects smart contract deploys by contract id suffix
type ContractMatcher struct {
	suffixes        []string
	caseInsensitive bool
}

// NewContractMatcher creates a matcher. No suffixes means DefaultContractSuffix.
func NewContractMatcher(suffixes []string, caseInsensitive bool) *ContractMatcher {
	cleaned := make([]string, 0, len(suffixes))
	for _, suffix := range suffixes {
		suffix = strings.TrimSpace(suffix)
		if suffix == "" {
			continue
		}
		if caseInsensitive {
			suffix = strings.ToLower(suffix)
		}
		cleaned = append(cleaned, suffix)
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultContractSuffix)
	}

	return &ContractMatcher{
		suffixes:        cleaned,
		caseInsensitive: caseInsensitive,
	}
}

// Match reports whether tx is a smart contract deploy with a matching contract id
func (m *ContractMatcher) Match(tx *models.Transaction) bool {
	if !tx.IsContractDeploy() {
		return false
	}
	return m.MatchContractID(tx.ContractID())
}

// MatchContractID checks the suffix rule alone
func (m *ContractMatcher) MatchContractID(contractID string) bool {
	if m.caseInsensitive {
		contractID = strings.ToLower(contractID)
	}
	for _, suffix := range m.suffixes {
		if strings.HasSuffix(contractID, suffix) {
			return true
		}
	}
	return false
}

// Filter returns the matching transactions, preserving listing order
func (m *ContractMatcher) Filter(txs []*models.Transaction) []*models.Transaction {
	filtered := make([]*models.Transaction, 0)
	for _, tx := range txs {
		if m.Match(tx) {
			filtered = append(filtered, tx)
		}
	}
	return filtered
}

// Suffixes returns the configured suffixes
func (m *ContractMatcher) Suffixes() []string {
	out := make([]string, len(m.suffixes))
	copy(out, m.suffixes)
	return out
}
