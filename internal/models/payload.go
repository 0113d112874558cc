package models

import (
	"encoding/json"
	"fmt"
)

// Payload is the per-entity-kind observation value carried by a timeline
// point. Concrete types exist for the known entity kinds; RawPayload carries
// anything else opaquely.
type Payload interface {
	Kind() EntityType
}

// DevicePayload is one telemetry sample from a device.
type DevicePayload struct {
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Status  string             `json:"status,omitempty"`
	Battery float64            `json:"battery,omitempty"`
}

func (DevicePayload) Kind() EntityType { return EntityTypeDevice }

// VesselPayload is one AIS-style track fix for a vessel.
type VesselPayload struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	SpeedKnots float64 `json:"speedKnots,omitempty"`
	Heading    float64 `json:"heading,omitempty"`
	MMSI       string  `json:"mmsi,omitempty"`
}

func (VesselPayload) Kind() EntityType { return EntityTypeVessel }

// AircraftPayload is one ADS-B-style track fix for an aircraft.
type AircraftPayload struct {
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	AltitudeFt     float64 `json:"altitudeFt,omitempty"`
	GroundSpeedKts float64 `json:"groundSpeedKts,omitempty"`
	Heading        float64 `json:"heading,omitempty"`
	Callsign       string  `json:"callsign,omitempty"`
}

func (AircraftPayload) Kind() EntityType { return EntityTypeAircraft }

// SimulationPayload reports progress of a running simulation.
type SimulationPayload struct {
	Progress float64 `json:"progress"`
	State    string  `json:"state,omitempty"`
	Step     int64   `json:"step,omitempty"`
}

func (SimulationPayload) Kind() EntityType { return EntityTypeSimulation }

// WeatherCellPayload is one sample of a weather grid cell.
type WeatherCellPayload struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	TempC       float64 `json:"tempC,omitempty"`
	PressureHPa float64 `json:"pressureHPa,omitempty"`
	Humidity    float64 `json:"humidity,omitempty"`
	WindMS      float64 `json:"windMs,omitempty"`
}

func (WeatherCellPayload) Kind() EntityType { return EntityTypeWeatherCell }

// RawPayload carries payloads of entity types this build does not know.
type RawPayload json.RawMessage

func (RawPayload) Kind() EntityType { return "" }

func (r RawPayload) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(r).MarshalJSON()
}

// DecodePayload parses raw payload JSON into the concrete type for the
// entity type. Unknown types are kept raw rather than rejected.
func DecodePayload(entityType EntityType, raw json.RawMessage) (Payload, error) {
	var (
		payload Payload
		err     error
	)
	switch entityType {
	case EntityTypeDevice:
		var v DevicePayload
		err = json.Unmarshal(raw, &v)
		payload = v
	case EntityTypeVessel:
		var v VesselPayload
		err = json.Unmarshal(raw, &v)
		payload = v
	case EntityTypeAircraft:
		var v AircraftPayload
		err = json.Unmarshal(raw, &v)
		payload = v
	case EntityTypeSimulation:
		var v SimulationPayload
		err = json.Unmarshal(raw, &v)
		payload = v
	case EntityTypeWeatherCell:
		var v WeatherCellPayload
		err = json.Unmarshal(raw, &v)
		payload = v
	default:
		payload = RawPayload(append([]byte(nil), raw...))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", entityType, err)
	}
	return payload, nil
}

// EncodePayload serializes a payload for storage. A nil payload encodes as null.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p)
}
