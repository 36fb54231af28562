package usecase

import (
	"time"

	"github.com/shopspring/decimal"

	"fleet_server/internal/domain"
)

// Outbound event names.
const (
	EventUpdateUserInfo         = "update_user_info"
	EventUpdateData             = "update_data"
	EventUpdateCumulativeProfit = "update_cumulative_profit"
	EventUpdateTargetProfit     = "update_target_profit"
	EventUpdateApprovalStatus   = "update_approval_status"
	EventGoalAchieved           = "goal_achieved"
	EventShowGoalMessage        = "show_goal_message"
	EventInitialData            = "initial_data"
)

const timestampLayout = "2006-01-02 15:04:05"

type UserInfoPayload struct {
	Name         string `json:"name"`
	UserIP       string `json:"user_ip"`
	ServerStatus string `json:"server_status"`
	Timestamp    string `json:"timestamp"`
}

// MetricsPayload is the update_data broadcast. Unreported metrics are encoded as
// null, never omitted, and the operator-only target is not part of it.
type MetricsPayload struct {
	Name              string   `json:"name"`
	UserIP            string   `json:"user_ip"`
	ServerStatus      string   `json:"server_status"`
	TotalBalance      *float64 `json:"total_balance"`
	CurrentProfitRate *float64 `json:"current_profit_rate"`
	UnrealizedPnl     *float64 `json:"unrealized_pnl"`
	CurrentTotalAsset *float64 `json:"current_total_asset"`
}

type CumulativeProfitPayload struct {
	Name             string  `json:"name"`
	CumulativeProfit float64 `json:"cumulativeProfit"`
}

type TargetProfitPayload struct {
	Name         string  `json:"name"`
	TargetProfit float64 `json:"targetProfit"`
}

type ApprovalPayload struct {
	Name       string `json:"name"`
	IsApproved bool   `json:"isApproved"`
}

type GoalPayload struct {
	Name string `json:"name"`
}

type GoalMessagePayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type DirectivePayload struct {
	Message string `json:"message"`
}

// ClientProjection is the read-only view used to seed a dashboard.
type ClientProjection struct {
	Name              string  `json:"name"`
	UserIP            string  `json:"user_ip"`
	TotalBalance      float64 `json:"total_balance"`
	CurrentProfitRate float64 `json:"current_profit_rate"`
	UnrealizedPnl     float64 `json:"unrealized_pnl"`
	CurrentTotalAsset float64 `json:"current_total_asset"`
	CumulativeProfit  float64 `json:"cumulative_profit"`
	TargetProfit      float64 `json:"target_profit"`
	ServerStatus      string  `json:"server_status"`
	IsApproved        bool    `json:"isApproved"`
	GoalAchieved      bool    `json:"goalAchieved"`
	Timestamp         string  `json:"timestamp"`
}

func userInfoPayload(record domain.ClientRecord, at time.Time) UserInfoPayload {
	return UserInfoPayload{
		Name:         record.Identity,
		UserIP:       record.NetworkAddress,
		ServerStatus: record.DisplayStatus(),
		Timestamp:    FormatTimestamp(at),
	}
}

// metricsPayload is built from the report itself so fields the client did not
// send are null rather than the previously stored value.
func metricsPayload(record domain.ClientRecord, report domain.MetricsReport) MetricsPayload {
	return MetricsPayload{
		Name:              record.Identity,
		UserIP:            firstNonEmpty(report.Address, record.NetworkAddress),
		ServerStatus:      record.DisplayStatus(),
		TotalBalance:      roundPtr(report.Metrics.TotalBalance),
		CurrentProfitRate: roundPtr(report.Metrics.CurrentProfitRate),
		UnrealizedPnl:     roundPtr(report.Metrics.UnrealizedPnl),
		CurrentTotalAsset: roundPtr(report.Metrics.CurrentTotalAsset),
	}
}

// Project formats a record for display. Unreported metrics read as zero.
func Project(record domain.ClientRecord) ClientProjection {
	return ClientProjection{
		Name:              record.Identity,
		UserIP:            record.NetworkAddress,
		TotalBalance:      valueOrZero(record.Metrics.TotalBalance),
		CurrentProfitRate: valueOrZero(record.Metrics.CurrentProfitRate),
		UnrealizedPnl:     valueOrZero(record.Metrics.UnrealizedPnl),
		CurrentTotalAsset: valueOrZero(record.Metrics.CurrentTotalAsset),
		CumulativeProfit:  record.CumulativeProfit,
		TargetProfit:      record.TargetProfit,
		ServerStatus:      record.DisplayStatus(),
		IsApproved:        record.IsApproved,
		GoalAchieved:      record.GoalAchieved,
		Timestamp:         FormatTimestamp(record.LastUpdatedAt),
	}
}

// FormatTimestamp renders t in UTC truncated to whole seconds, or "" when unset.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	rounded := Round2(*v)
	return &rounded
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
