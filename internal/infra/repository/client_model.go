package repository

import (
	"time"

	"gorm.io/datatypes"

	"fleet_server/internal/domain"
)

type ClientModel struct {
	Name              string         `gorm:"column:name;primaryKey"`
	Address           *string        `gorm:"column:address"`
	ServerStatus      *string        `gorm:"column:server_status"`
	ConnectionStatus  string         `gorm:"column:connection_status;not null"`
	IsApproved        bool           `gorm:"column:is_approved;not null"`
	CumulativeProfit  float64        `gorm:"column:cumulative_profit;not null"`
	TargetProfit      float64        `gorm:"column:target_profit;not null"`
	GoalAchieved      bool           `gorm:"column:goal_achieved;not null"`
	SocketID          *string        `gorm:"column:socket_id;index"`
	TotalBalance      *float64       `gorm:"column:total_balance"`
	CurrentProfitRate *float64       `gorm:"column:current_profit_rate"`
	UnrealizedPnl     *float64       `gorm:"column:unrealized_pnl"`
	CurrentTotalAsset *float64       `gorm:"column:current_total_asset"`
	LastPayload       datatypes.JSON `gorm:"column:last_payload;type:jsonb"`
	LastUpdatedAt     time.Time      `gorm:"column:last_updated_at"`
	CreatedAt         time.Time      `gorm:"column:created_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at"`
}

func (ClientModel) TableName() string {
	return "clients"
}

func toClientModel(record domain.ClientRecord) ClientModel {
	status := record.ConnectionStatus
	if status == "" {
		status = domain.ConnectionDisconnected
	}
	return ClientModel{
		Name:              record.Identity,
		Address:           stringPointerOrNil(record.NetworkAddress),
		ServerStatus:      stringPointerOrNil(record.ReportedStatus),
		ConnectionStatus:  string(status),
		IsApproved:        record.IsApproved,
		CumulativeProfit:  record.CumulativeProfit,
		TargetProfit:      record.TargetProfit,
		GoalAchieved:      record.GoalAchieved,
		SocketID:          stringPointerOrNil(record.LiveConnectionID),
		TotalBalance:      copyFloat(record.Metrics.TotalBalance),
		CurrentProfitRate: copyFloat(record.Metrics.CurrentProfitRate),
		UnrealizedPnl:     copyFloat(record.Metrics.UnrealizedPnl),
		CurrentTotalAsset: copyFloat(record.Metrics.CurrentTotalAsset),
		LastPayload:       jsonOrNil(record.LastPayload),
		LastUpdatedAt:     record.LastUpdatedAt,
		CreatedAt:         record.CreatedAt,
	}
}

func (m ClientModel) toDomain() domain.ClientRecord {
	return domain.ClientRecord{
		Identity:         m.Name,
		NetworkAddress:   stringValueOrEmpty(m.Address),
		ReportedStatus:   stringValueOrEmpty(m.ServerStatus),
		ConnectionStatus: domain.ConnectionStatus(m.ConnectionStatus),
		IsApproved:       m.IsApproved,
		CumulativeProfit: m.CumulativeProfit,
		TargetProfit:     m.TargetProfit,
		GoalAchieved:     m.GoalAchieved,
		LiveConnectionID: stringValueOrEmpty(m.SocketID),
		Metrics: domain.ClientMetrics{
			TotalBalance:      copyFloat(m.TotalBalance),
			CurrentProfitRate: copyFloat(m.CurrentProfitRate),
			UnrealizedPnl:     copyFloat(m.UnrealizedPnl),
			CurrentTotalAsset: copyFloat(m.CurrentTotalAsset),
		},
		LastPayload:   copyJSON(m.LastPayload),
		LastUpdatedAt: m.LastUpdatedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	cpy := *v
	return &cpy
}

func jsonOrNil(data []byte) datatypes.JSON {
	if len(data) == 0 {
		return nil
	}
	return datatypes.JSON(append([]byte(nil), data...))
}

func stringPointerOrNil(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringValueOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func copyJSON(data datatypes.JSON) []byte {
	if len(data) == 0 {
		return nil
	}
	cpy := make([]byte, len(data))
	copy(cpy, data)
	return cpy
}
