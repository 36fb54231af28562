package domain

import (
	"strings"
	"time"
)

type ConnectionStatus string

const (
	ConnectionOnline       ConnectionStatus = "Online"
	ConnectionDisconnected ConnectionStatus = "Disconnected"
)

// DefaultTargetProfit is assigned to records created without an operator-provided target.
const DefaultTargetProfit = 500.0

// ClientMetrics is the latest balance snapshot reported by a bot. Each field is
// nil until the client reports it at least once.
type ClientMetrics struct {
	TotalBalance      *float64
	CurrentProfitRate *float64
	UnrealizedPnl     *float64
	CurrentTotalAsset *float64
}

// ClientRecord is the canonical persisted state of one bot, keyed by its self-reported name.
type ClientRecord struct {
	Identity         string
	NetworkAddress   string
	ReportedStatus   string
	ConnectionStatus ConnectionStatus
	IsApproved       bool
	CumulativeProfit float64
	TargetProfit     float64
	GoalAchieved     bool
	LiveConnectionID string
	Metrics          ClientMetrics
	LastPayload      []byte
	LastUpdatedAt    time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewClientRecord builds a record with the defaults applied to every previously unseen identity.
func NewClientRecord(identity string, target float64) ClientRecord {
	if target <= 0 {
		target = DefaultTargetProfit
	}
	return ClientRecord{
		Identity:         identity,
		ConnectionStatus: ConnectionDisconnected,
		TargetProfit:     target,
	}
}

// Online reports whether the record is bound to a live transport.
func (r ClientRecord) Online() bool {
	return r.ConnectionStatus == ConnectionOnline
}

// DisplayStatus is the server_status shown to dashboards.
func (r ClientRecord) DisplayStatus() string {
	if r.ConnectionStatus == ConnectionDisconnected {
		return string(ConnectionDisconnected)
	}
	if r.ReportedStatus == "" {
		return string(ConnectionOnline)
	}
	return r.ReportedStatus
}

// Introduction is a user_info_update heartbeat from a bot.
type Introduction struct {
	Name         string
	Address      string
	ServerStatus string
}

// MetricsReport is a periodic update_data report from a bot.
type MetricsReport struct {
	Name         string
	Address      string
	ServerStatus string
	Metrics      ClientMetrics
	RawPayload   []byte
}

// NormalizeIdentity trims surrounding whitespace from a self-reported name.
func NormalizeIdentity(name string) string {
	return strings.TrimSpace(name)
}

// MergeMetrics overlays the reported fields onto prev. Missing fields keep the prior value.
func MergeMetrics(prev, reported ClientMetrics) ClientMetrics {
	out := prev
	if reported.TotalBalance != nil {
		out.TotalBalance = floatPtr(*reported.TotalBalance)
	}
	if reported.CurrentProfitRate != nil {
		out.CurrentProfitRate = floatPtr(*reported.CurrentProfitRate)
	}
	if reported.UnrealizedPnl != nil {
		out.UnrealizedPnl = floatPtr(*reported.UnrealizedPnl)
	}
	if reported.CurrentTotalAsset != nil {
		out.CurrentTotalAsset = floatPtr(*reported.CurrentTotalAsset)
	}
	return out
}

func floatPtr(v float64) *float64 {
	return &v
}
