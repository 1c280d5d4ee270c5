// Package meteo models the Latvian meteorological observation documents:
// one document per metric abbreviation, carrying dictionary metadata and a
// rolling window of station observations.
package meteo

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrNotFound is returned when no document exists for an abbreviation.
	ErrNotFound = errors.New("metric document not found")
)

// SizeWarnBytes is the document size above which a warning is logged; the
// Firestore backend rejects documents near 1 MiB.
const SizeWarnBytes = 900_000

// Observation is one station reading, joined with the station register.
// Nullable source values stay nil rather than collapsing to zero.
type Observation struct {
	StationID         string   `json:"STATION_ID" firestore:"STATION_ID"`
	Name              string   `json:"NAME" firestore:"NAME"`
	WMOID             string   `json:"WMO_ID" firestore:"WMO_ID"`
	BeginDate         string   `json:"BEGIN_DATE" firestore:"BEGIN_DATE"`
	Latitude          *float64 `json:"LATITUDE" firestore:"LATITUDE"`
	Longitude         *float64 `json:"LONGITUDE" firestore:"LONGITUDE"`
	Gauss1            *float64 `json:"GAUSS1" firestore:"GAUSS1"`
	Gauss2            *float64 `json:"GAUSS2" firestore:"GAUSS2"`
	Geogr1            *float64 `json:"GEOGR1" firestore:"GEOGR1"`
	Geogr2            *float64 `json:"GEOGR2" firestore:"GEOGR2"`
	Elevation         *float64 `json:"ELEVATION" firestore:"ELEVATION"`
	ElevationPressure *float64 `json:"ELEVATION_PRESSURE" firestore:"ELEVATION_PRESSURE"`
	DatetimeEpoch     *int64   `json:"DATETIME_EPOCH" firestore:"DATETIME_EPOCH"`
	DatetimeLV        *string  `json:"DATETIME_LV" firestore:"DATETIME_LV"`
	Value             *float64 `json:"VALUE" firestore:"VALUE"`
}

// MetricDocument is the persisted unit: the dictionary entry for one
// abbreviation plus its current observation window.
type MetricDocument struct {
	Abbreviation    string        `json:"ABBREVIATION" firestore:"ABBREVIATION" validate:"required"`
	EnDescription   string        `json:"EN_DESCRIPTION" firestore:"EN_DESCRIPTION"`
	LvDescription   string        `json:"LV_DESCRIPTION" firestore:"LV_DESCRIPTION"`
	Scale           string        `json:"SCALE" firestore:"SCALE"`
	LowerLimit      string        `json:"LOWER_LIMIT" firestore:"LOWER_LIMIT"`
	UpperLimit      string        `json:"UPPER_LIMIT" firestore:"UPPER_LIMIT"`
	MeasurementUnit string        `json:"MEASUREMENT_UNIT" firestore:"MEASUREMENT_UNIT"`
	TotalStations   int           `json:"TOTAL_STATIONS" firestore:"TOTAL_STATIONS"`
	Observations    []Observation `json:"OBSERVATIONS" firestore:"OBSERVATIONS" validate:"required"`
}

var validate = validator.New()

// Validate checks the document satisfies the persisted schema: a non-empty
// abbreviation and a (possibly empty, never nil) observation list.
func (d *MetricDocument) Validate() error {
	return validate.Struct(d)
}

// ApproxSize estimates the serialized document size in bytes.
func (d *MetricDocument) ApproxSize() int {
	data, err := json.Marshal(d)
	if err != nil {
		return 0
	}
	return len(data)
}

// DocumentStore is the contract any persistence backend must satisfy.
// Implementations map their own not-found condition to ErrNotFound.
type DocumentStore interface {
	Get(ctx context.Context, abbr string) (*MetricDocument, error)
	Set(ctx context.Context, abbr string, doc *MetricDocument) error
	List(ctx context.Context) ([]*MetricDocument, error)
}
