package query

// AccountResponse represents account state for API queries. Amounts are
// decimal strings at the external precision.
type AccountResponse struct {
	Client    uint16 `json:"client"`
	Available string `json:"available"`
	Held      string `json:"held"`
	Total     string `json:"total"`
	Locked    bool   `json:"locked"`

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // projection freshness
}

// TransactionResponse represents an applied transaction with its dispute
// lifecycle, assembled from the transaction log.
type TransactionResponse struct {
	Tx           uint32 `json:"tx"`
	Client       uint16 `json:"client"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	Sequence     int64  `json:"sequence"`
	DisputeState string `json:"dispute_state"`
	StateHash    string `json:"state_hash"` // hex
	AsOfSequence int64  `json:"as_of_sequence"`
}

// RejectionResponse represents a rejected event for API queries.
type RejectionResponse struct {
	RejectionID string `json:"rejection_id"`
	Type        string `json:"type"`
	Client      uint16 `json:"client"`
	Tx          uint32 `json:"tx"`
	Amount      string `json:"amount,omitempty"`
	Reason      string `json:"reason"`
	Timestamp   string `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	LatestSequence  int64   `json:"latest_sequence"`
}
