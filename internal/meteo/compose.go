package meteo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meteolv/meteo-sync/internal/ckan"
)

// ErrNoObservations is returned when the feed has no rows for a metric.
var ErrNoObservations = errors.New("no observations for metric")

// DefaultBatch is the observation page size used against the feed.
const DefaultBatch = 10000

const (
	abbrBatch    = 50
	stationBatch = 300
)

// Composer turns raw CKAN rows into MetricDocuments. Source timestamps are
// naive local time in Europe/Riga and are normalized to UTC epoch seconds.
type Composer struct {
	feed  *ckan.Client
	batch int
	loc   *time.Location
}

// NewComposer creates a Composer reading from the given feed client.
func NewComposer(feed *ckan.Client, batch int) (*Composer, error) {
	if batch <= 0 {
		batch = DefaultBatch
	}
	loc, err := time.LoadLocation("Europe/Riga")
	if err != nil {
		return nil, fmt.Errorf("load Europe/Riga timezone: %w", err)
	}
	return &Composer{feed: feed, batch: batch, loc: loc}, nil
}

// stationInfo is the station-register slice joined onto every observation.
type stationInfo struct {
	Name              string
	WMOID             string
	BeginDate         string
	Latitude          *float64
	Longitude         *float64
	Gauss1            *float64
	Gauss2            *float64
	Geogr1            *float64
	Geogr2            *float64
	Elevation         *float64
	ElevationPressure *float64
}

// Snapshot holds one consistent read of the feed: the abbreviation
// dictionary, the station register and all observation rows grouped by
// metric. Loading once per sync run avoids refetching the full feed for
// every metric.
type Snapshot struct {
	loc      *time.Location
	meta     map[string]ckan.Record
	stations map[string]stationInfo
	byAbbr   map[string][]ckan.Record
}

// Load fetches the dictionary, stations and observations in one pass.
func (c *Composer) Load(ctx context.Context) (*Snapshot, error) {
	abbrRows, err := c.feed.Records(ctx, ckan.ResourceAbbreviations, abbrBatch)
	if err != nil {
		return nil, fmt.Errorf("load abbreviation dictionary: %w", err)
	}
	staRows, err := c.feed.Records(ctx, ckan.ResourceStations, stationBatch)
	if err != nil {
		return nil, fmt.Errorf("load station register: %w", err)
	}
	obsRows, err := c.feed.Records(ctx, ckan.ResourceObservations, c.batch)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}

	snap := &Snapshot{
		loc:      c.loc,
		meta:     make(map[string]ckan.Record, len(abbrRows)),
		stations: make(map[string]stationInfo, len(staRows)),
		byAbbr:   make(map[string][]ckan.Record),
	}

	for _, r := range abbrRows {
		if abbr := coerceString(r["ABBREVIATION"]); abbr != "" {
			snap.meta[abbr] = r
		}
	}
	for _, r := range staRows {
		sid := coerceString(r["STATION_ID"])
		if sid == "" {
			continue
		}
		snap.stations[sid] = stationInfo{
			Name:              coerceString(r["NAME"]),
			WMOID:             coerceString(r["WMO_ID"]),
			BeginDate:         coerceString(r["BEGIN_DATE"]),
			Latitude:          coerceFloat(r["LATITUDE"]),
			Longitude:         coerceFloat(r["LONGITUDE"]),
			Gauss1:            coerceFloat(r["GAUSS1"]),
			Gauss2:            coerceFloat(r["GAUSS2"]),
			Geogr1:            coerceFloat(r["GEOGR1"]),
			Geogr2:            coerceFloat(r["GEOGR2"]),
			Elevation:         coerceFloat(r["ELEVATION"]),
			ElevationPressure: coerceFloat(r["ELEVATION_PRESSURE"]),
		}
	}
	for _, r := range obsRows {
		abbr := coerceString(r["ABBREVIATION"])
		if abbr == "" {
			continue
		}
		snap.byAbbr[abbr] = append(snap.byAbbr[abbr], r)
	}
	return snap, nil
}

// Compose builds the full document for one metric from the snapshot.
func (s *Snapshot) Compose(abbr string) (*MetricDocument, error) {
	rows := s.byAbbr[abbr]
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoObservations, abbr)
	}

	observations := make([]Observation, 0, len(rows))
	for _, r := range rows {
		sid := coerceString(r["STATION_ID"])
		st := s.stations[sid]
		epoch := s.parseEpoch(r["DATETIME"])
		observations = append(observations, Observation{
			StationID:         sid,
			Name:              st.Name,
			WMOID:             st.WMOID,
			BeginDate:         st.BeginDate,
			Latitude:          st.Latitude,
			Longitude:         st.Longitude,
			Gauss1:            st.Gauss1,
			Gauss2:            st.Gauss2,
			Geogr1:            st.Geogr1,
			Geogr2:            st.Geogr2,
			Elevation:         st.Elevation,
			ElevationPressure: st.ElevationPressure,
			DatetimeEpoch:     epoch,
			DatetimeLV:        s.epochToLocalISO(epoch),
			Value:             coerceFloat(r["VALUE"]),
		})
	}

	sortObservations(observations)

	meta := s.meta[abbr]
	return &MetricDocument{
		Abbreviation:    abbr,
		EnDescription:   coerceString(meta["EN_DESCRIPTION"]),
		LvDescription:   coerceString(meta["LV_DESCRIPTION"]),
		Scale:           coerceString(meta["SCALE"]),
		LowerLimit:      coerceString(meta["LOWER_LIMIT"]),
		UpperLimit:      coerceString(meta["UPPER_LIMIT"]),
		MeasurementUnit: coerceString(meta["MEASUREMENT_UNIT"]),
		TotalStations:   countStations(observations),
		Observations:    observations,
	}, nil
}

// parseEpoch interprets a feed timestamp as Europe/Riga local time and
// returns UTC epoch seconds, or nil when unparsable.
func (s *Snapshot) parseEpoch(v interface{}) *int64 {
	raw := coerceString(v)
	if raw == "" {
		return nil
	}

	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.ParseInLocation(layout, raw, s.loc); err == nil {
			epoch := ts.UTC().Unix()
			return &epoch
		}
	}

	// Zone-aware fallback.
	if ts, err := time.Parse(time.RFC3339, strings.Replace(raw, "Z", "+00:00", 1)); err == nil {
		epoch := ts.UTC().Unix()
		return &epoch
	}
	return nil
}

// epochToLocalISO renders epoch seconds as an ISO timestamp in Europe/Riga.
func (s *Snapshot) epochToLocalISO(epoch *int64) *string {
	if epoch == nil {
		return nil
	}
	iso := time.Unix(*epoch, 0).In(s.loc).Format("2006-01-02T15:04:05-07:00")
	return &iso
}

// sortObservations orders by station name descending, then epoch descending;
// rows without an epoch sort last within their station.
func sortObservations(obs []Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		if obs[i].Name != obs[j].Name {
			return obs[i].Name > obs[j].Name
		}
		return epochOrMin(obs[i]) > epochOrMin(obs[j])
	})
}

func epochOrMin(o Observation) int64 {
	if o.DatetimeEpoch != nil {
		return *o.DatetimeEpoch
	}
	return math.MinInt64
}

func countStations(obs []Observation) int {
	seen := make(map[string]struct{}, len(obs))
	for _, o := range obs {
		if o.StationID != "" {
			seen[o.StationID] = struct{}{}
		}
	}
	return len(seen)
}

// coerceString renders any feed value as a trimmed string; nil becomes "".
func coerceString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// coerceFloat parses a feed numeric; comma decimal separators are accepted.
// Unparsable or missing values stay nil.
func coerceFloat(v interface{}) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case int64:
		f := float64(t)
		return &f
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}
