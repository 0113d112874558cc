package models

import (
	"encoding/json"
	"fmt"
)

// EntityType identifies the kind of entity a timeline point belongs to.
type EntityType string

const (
	EntityTypeDevice      EntityType = "device"
	EntityTypeVessel      EntityType = "vessel"
	EntityTypeAircraft    EntityType = "aircraft"
	EntityTypeSimulation  EntityType = "simulation"
	EntityTypeWeatherCell EntityType = "weather-cell"
)

// Source names the cache tier that produced a result.
type Source string

const (
	SourceMemory     Source = "memory"
	SourcePersistent Source = "persistent"
	SourceNetwork    Source = "network"
)

// TimelineDataPoint is one observation of an entity at a point in time.
// Identity is the triple (EntityType, EntityID, Timestamp); two points with
// the same triple are the same observation.
type TimelineDataPoint struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Timestamp  int64      `json:"timestamp"` // epoch millis
	Payload    Payload    `json:"payload"`
	SourceTier Source     `json:"sourceTier,omitempty"`
}

// Key returns the identity triple as a stable map key.
func (p *TimelineDataPoint) Key() string {
	return fmt.Sprintf("%s|%s|%d", p.EntityType, p.EntityID, p.Timestamp)
}

// Validate reports whether the point carries a usable identity.
func (p *TimelineDataPoint) Validate() error {
	if p.EntityType == "" {
		return fmt.Errorf("timeline point: missing entityType")
	}
	if p.EntityID == "" {
		return fmt.Errorf("timeline point: missing entityId")
	}
	if p.Timestamp < 0 {
		return fmt.Errorf("timeline point: negative timestamp %d", p.Timestamp)
	}
	return nil
}

// UnmarshalJSON decodes the payload into the concrete type for the point's
// entity type. Unknown entity types keep the payload as raw JSON.
func (p *TimelineDataPoint) UnmarshalJSON(data []byte) error {
	var head struct {
		EntityType EntityType      `json:"entityType"`
		EntityID   string          `json:"entityId"`
		Timestamp  int64           `json:"timestamp"`
		Payload    json.RawMessage `json:"payload"`
		SourceTier Source          `json:"sourceTier"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	p.EntityType = head.EntityType
	p.EntityID = head.EntityID
	p.Timestamp = head.Timestamp
	p.SourceTier = head.SourceTier
	if len(head.Payload) == 0 || string(head.Payload) == "null" {
		p.Payload = nil
		return nil
	}
	payload, err := DecodePayload(head.EntityType, head.Payload)
	if err != nil {
		return err
	}
	p.Payload = payload
	return nil
}

// TimelineQuery is a read request over (entityType [, entityId], [start, end)).
// EntityID == "" means all entities of the type. StartTime is inclusive,
// EndTime exclusive.
type TimelineQuery struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId,omitempty"`
	StartTime  int64      `json:"startTime"`
	EndTime    int64      `json:"endTime"`
}

// Validate checks the query shape.
func (q TimelineQuery) Validate() error {
	if q.EntityType == "" {
		return fmt.Errorf("timeline query: missing entityType")
	}
	if q.StartTime >= q.EndTime {
		return fmt.Errorf("timeline query: empty range [%d, %d)", q.StartTime, q.EndTime)
	}
	return nil
}

// Signature returns the normalized query key used for the memory tier and
// for in-flight request de-duplication.
func (q TimelineQuery) Signature() string {
	return fmt.Sprintf("%s|%s|%d|%d", q.EntityType, q.EntityID, q.StartTime, q.EndTime)
}

// Matches reports whether the point falls inside the query's scope and range.
func (q TimelineQuery) Matches(p *TimelineDataPoint) bool {
	if p.EntityType != q.EntityType {
		return false
	}
	if q.EntityID != "" && p.EntityID != q.EntityID {
		return false
	}
	return p.Timestamp >= q.StartTime && p.Timestamp < q.EndTime
}

// CacheResult is the answer to a query, tagged with the tier that produced it.
type CacheResult[T any] struct {
	Data   T      `json:"data"`
	Source Source `json:"source"`
}

// CacheStats is a point-in-time snapshot of cache state. Derived, never
// persisted, and never consulted by the cache's own routing logic.
type CacheStats struct {
	MemoryEntries       int     `json:"memoryEntries"`
	PersistentEntries   int     `json:"persistentEntries"`
	PersistentSizeBytes int64   `json:"persistentSizeBytes"`
	HitRate             float64 `json:"hitRate"`
	Hits                uint64  `json:"hits"`
	Misses              uint64  `json:"misses"`
	PersistentFailures  uint64  `json:"persistentFailures"`
}
