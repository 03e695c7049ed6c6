// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Valid RSSI range in dBm.
const (
	MinRSSIDBm = -120.0
	MaxRSSIDBm = 0.0
)

// Kind is the direction of an event: a transmission or a reception.
type Kind string

const (
	KindTX Kind = "tx"
	KindRX Kind = "rx"
)

// ParseKind accepts exactly "tx" or "rx".
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindTX, KindRX:
		return k, nil
	default:
		return "", fmt.Errorf("%w: event must be %q or %q, got %q", ErrValidation, KindTX, KindRX, s)
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindTX || k == KindRX
}

// EventRecord is one tx or rx observation. Records are values; nothing
// mutates them after decoding.
type EventRecord struct {
	TimestampUS int64
	Kind        Kind
	Src         string
	Dst         string
	PacketID    string
	App         string
	SizeBytes   int64

	RSSIDBm    Optional[float64]
	SINRDB     Optional[float64]
	DropReason Optional[string]
}

// Validate checks field constraints and returns an error wrapping ErrValidation.
func (r EventRecord) Validate() error {
	var problems []string
	if r.TimestampUS < 0 {
		problems = append(problems, fmt.Sprintf("ts_us must be >= 0, got %d", r.TimestampUS))
	}
	if !r.Kind.Valid() {
		problems = append(problems, fmt.Sprintf("event must be tx or rx, got %q", r.Kind))
	}
	for _, f := range []struct{ name, val string }{
		{"src", r.Src}, {"dst", r.Dst}, {"pkt_id", r.PacketID}, {"app", r.App},
	} {
		if f.val == "" {
			problems = append(problems, f.name+" must not be empty")
		}
	}
	if v, ok := r.RSSIDBm.Get(); ok && (v < MinRSSIDBm || v > MaxRSSIDBm) {
		problems = append(problems, fmt.Sprintf("rssi_dbm must be within [%g, %g], got %g", MinRSSIDBm, MaxRSSIDBm, v))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// wireRecord is the NDJSON shape of a record.
type wireRecord struct {
	TimestampUS int64             `json:"ts_us"`
	Event       Kind              `json:"event"`
	Src         string            `json:"src"`
	Dst         string            `json:"dst"`
	PacketID    string            `json:"pkt_id"`
	App         string            `json:"app"`
	Bytes       int64             `json:"bytes"`
	RSSIDBm     Optional[float64] `json:"rssi_dbm"`
	SINRDB      Optional[float64] `json:"sinr_db"`
	DropReason  Optional[string]  `json:"drop_reason"`
}

// MarshalJSON writes the record with its wire field names; absent optionals are null.
func (r EventRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{
		TimestampUS: r.TimestampUS,
		Event:       r.Kind,
		Src:         r.Src,
		Dst:         r.Dst,
		PacketID:    r.PacketID,
		App:         r.App,
		Bytes:       r.SizeBytes,
		RSSIDBm:     r.RSSIDBm,
		SINRDB:      r.SINRDB,
		DropReason:  r.DropReason,
	})
}

// MatchedPair is a successfully correlated tx/rx couple.
type MatchedPair struct {
	PacketID      string
	Src           string
	Dst           string
	App           string
	SizeBytes     int64
	TxTimestampUS int64
	RxTimestampUS int64
	LatencyUS     int64
	WindowStart   int64
	// SINRDB comes from the reception.
	SINRDB Optional[float64]
}
