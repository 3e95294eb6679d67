package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Packet is the opaque unit of transfer between an emitter and an
// analyzer. The distributor never interprets the payload — it only
// carries it, per the "dynamic packet payloads" design note.
type Packet struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// NewPacket wraps a raw JSON body, generating an ID if the caller didn't
// supply one.
func NewPacket(id string, payload json.RawMessage) Packet {
	if id == "" {
		id = uuid.New().String()
	}
	return Packet{ID: id, Payload: payload}
}

// AnalyzerSnapshot is the wire view of one registry entry, used by
// GET /registry and the metrics push channel.
type AnalyzerSnapshot struct {
	ID              string  `json:"id"`
	URL             string  `json:"url"`
	Weight          float64 `json:"weight"`
	EffectiveWeight float64 `json:"effective_weight"`
	Healthy         bool    `json:"healthy"`
	AdminEnabled    bool    `json:"admin_enabled"`
	Failures        int     `json:"failures"`
	TxPackets       int64   `json:"tx_packets"`
}

// EmitterSnapshot is the last observed state of one emitter, used by
// the metrics push channel. The /emitter/{id}/metrics passthrough returns
// the emitter's raw body instead.
type EmitterSnapshot struct {
	EmitterID  string  `json:"emitter_id"`
	BufferSize *int64  `json:"buffer_size"`
	RateRPS    float64 `json:"rate_rps"`
	Paused     bool    `json:"paused"`
}

// MetricsSnapshot is the payload pushed once per second to each
// /ws/metrics subscriber.
type MetricsSnapshot struct {
	Timestamp  float64            `json:"ts"`
	QueueDepth int                `json:"queue_depth"`
	Analyzers  []AnalyzerSnapshot `json:"analyzers"`
	Emitters   []EmitterSnapshot  `json:"emitters"`
	PacketsRX  int64              `json:"packets_rx"`
}

// MarshalTimestamp returns t as fractional seconds since the Unix epoch,
// matching the original service's float-seconds ts field.
func MarshalTimestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
