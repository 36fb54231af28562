package ws

import (
	"bytes"
	"encoding/json"
)

// Inbound event names.
const (
	EventUserInfoUpdate     = "user_info_update"
	EventCumulativeProfit   = "cumulative_profit"
	EventUpdateData         = "update_data"
	EventKeepAlive          = "keep_alive"
	EventRequestInitialData = "request_initial_data"
	EventSendCommand        = "send_command"
	EventSetTargetProfit    = "set_target_profit"

	EventAck = "ack"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int64          `json:"ack,omitempty"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
	Ack   *int64 `json:"ack,omitempty"`
}

type AckResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type userInfoRequest struct {
	Name         string `json:"name"`
	UserIP       string `json:"user_ip"`
	ServerStatus string `json:"server_status"`
}

type profitRequest struct {
	CumulativeProfit json.RawMessage `json:"cumulativeProfit"`
}

// updateDataRequest keeps metrics raw so a non-numeric value reads as unreported
// instead of failing the whole report. target_profit is accepted and discarded.
type updateDataRequest struct {
	Name              string          `json:"name"`
	UserIP            string          `json:"user_ip"`
	ServerStatus      string          `json:"server_status"`
	TotalBalance      json.RawMessage `json:"total_balance"`
	CurrentProfitRate json.RawMessage `json:"current_profit_rate"`
	UnrealizedPnl     json.RawMessage `json:"unrealized_pnl"`
	CurrentTotalAsset json.RawMessage `json:"current_total_asset"`
	TargetProfit      json.RawMessage `json:"target_profit"`
}

type keepAliveRequest struct {
	Name string `json:"name"`
}

type commandRequest struct {
	Command string `json:"command"`
	Name    string `json:"name"`
}

type targetRequest struct {
	Name         string          `json:"name"`
	TargetProfit json.RawMessage `json:"targetProfit"`
}

func encodeEvent(event string, payload any) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Event: event, Data: payload})
}

func encodeAck(ack int64, payload any) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Event: EventAck, Data: payload, Ack: &ack})
}

// decodeNumber accepts only JSON numbers; strings, booleans and null are rejected.
func decodeNumber(raw json.RawMessage) (float64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, false
	}
	if c := trimmed[0]; c != '-' && (c < '0' || c > '9') {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return 0, false
	}
	return v, true
}

func decodeOptionalNumber(raw json.RawMessage) *float64 {
	v, ok := decodeNumber(raw)
	if !ok {
		return nil
	}
	return &v
}
