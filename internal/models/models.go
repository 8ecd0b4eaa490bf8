// Package models provides domain models for the disclosure pipeline.
package models

import (
	"strings"
	"time"
)

// SourceKind identifies the feed a disclosure event came from.
type SourceKind string

const (
	SourceInsider  SourceKind = "insider"
	SourceCongress SourceKind = "congress"
	SourceFund     SourceKind = "fund"
)

// Valid reports whether the source kind is one of the known feeds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceInsider, SourceCongress, SourceFund:
		return true
	}
	return false
}

// TransactionType represents the disclosed transaction direction.
type TransactionType string

const (
	TxnPurchase TransactionType = "P"
	TxnSale     TransactionType = "S"
	TxnOther    TransactionType = "O"
)

// AnomalyTag is a detected pattern label attached to an event.
type AnomalyTag string

const (
	AnomalyRoleBuy              AnomalyTag = "role_buy"
	AnomalyClusterBuy           AnomalyTag = "cluster_buy"
	AnomalyFirstPurchaseInYears AnomalyTag = "first_purchase_in_years"
	AnomalyUnusuallyLarge       AnomalyTag = "unusually_large"
)

// Tier is the posting urgency class derived from the virality score.
type Tier int

const (
	TierNone Tier = 0 // not yet scored
	Tier1    Tier = 1 // post immediately
	Tier2    Tier = 2 // post within the deferral window
	Tier3    Tier = 3 // batch post
	Tier4    Tier = 4 // daily roundup only
)

// Event is one ingested disclosure record. Identity is
// (SourceKind, ExternalID); re-ingesting the same identity is a no-op.
type Event struct {
	ID         int64
	SourceKind SourceKind
	ExternalID string

	// Entity and actor facts
	Ticker    string
	Company   string
	ActorName string
	ActorCIK  string
	ActorRole string

	IsDirector        bool
	IsOfficer         bool
	IsTenPercentOwner bool

	// Transaction facts
	TransactionType TransactionType
	TransactionDate time.Time
	Shares          int64
	PricePerShare   float64
	TotalValue      float64

	// Source-specific extension fields (amount ranges, chambers, fund
	// position deltas, filing URLs, ...).
	Extra map[string]string

	// Derived by the detector and scorer
	Anomalies []AnomalyTag
	Score     *int
	Tier      Tier

	IngestedAt time.Time
}

// IsPurchase reports whether the event is a purchase transaction.
func (e *Event) IsPurchase() bool {
	return e.TransactionType == TxnPurchase
}

// Scored reports whether the event has been through the scorer.
func (e *Event) Scored() bool {
	return e.Score != nil
}

// HasAnomaly reports whether the given tag was detected on the event.
func (e *Event) HasAnomaly(tag AnomalyTag) bool {
	for _, a := range e.Anomalies {
		if a == tag {
			return true
		}
	}
	return false
}

// ExecutiveRole reports whether the actor's role reads as an
// executive or founder position. Role strings from the feeds are
// free-form ("Chief Executive Officer", "CEO & Director", ...).
func (e *Event) ExecutiveRole() bool {
	role := strings.ToUpper(e.ActorRole)
	for _, marker := range []string{
		"CEO", "CHIEF EXECUTIVE",
		"CFO", "CHIEF FINANCIAL",
		"FOUNDER",
	} {
		if strings.Contains(role, marker) {
			return true
		}
	}
	// Deputy titles do not hold the top seat.
	if strings.Contains(role, "VICE") {
		return false
	}
	return strings.Contains(role, "PRESIDENT") || strings.Contains(role, "CHAIRMAN")
}

// RawEvent is the record shape emitted by scraper collaborators.
// The pipeline validates identity fields before it becomes an Event.
type RawEvent struct {
	SourceKind      string            `json:"source_kind"`
	ExternalID      string            `json:"external_id"`
	Ticker          string            `json:"ticker"`
	Company         string            `json:"company"`
	ActorName       string            `json:"actor_name"`
	ActorCIK        string            `json:"actor_cik"`
	ActorRole       string            `json:"actor_role"`
	IsDirector      bool              `json:"is_director,omitempty"`
	IsOfficer       bool              `json:"is_officer,omitempty"`
	IsTenPctOwner   bool              `json:"is_ten_percent_owner,omitempty"`
	TransactionType string            `json:"transaction_type"`
	TransactionDate string            `json:"transaction_date"`
	Shares          int64             `json:"shares,omitempty"`
	PricePerShare   float64           `json:"price_per_share,omitempty"`
	TotalValue      float64           `json:"total_value,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}
