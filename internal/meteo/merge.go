package meteo

import (
	"math"
	"time"
)

// DefaultPruneWindow keeps the trailing 48 hours per station.
const DefaultPruneWindow = 48 * time.Hour

// latestByStation returns each station's newest observation epoch. Rows
// without a station id or epoch are ignored.
func latestByStation(obs []Observation) map[string]int64 {
	latest := make(map[string]int64)
	for _, o := range obs {
		if o.StationID == "" || o.DatetimeEpoch == nil {
			continue
		}
		if cur, ok := latest[o.StationID]; !ok || *o.DatetimeEpoch > cur {
			latest[o.StationID] = *o.DatetimeEpoch
		}
	}
	return latest
}

// PruneByStationWindow keeps only rows within the window preceding each
// station's own latest epoch. Rows lacking a station id or epoch are
// dropped.
func PruneByStationWindow(obs []Observation, window time.Duration) []Observation {
	latest := latestByStation(obs)
	windowSeconds := int64(window / time.Second)

	keep := make([]Observation, 0, len(obs))
	for _, o := range obs {
		if o.StationID == "" || o.DatetimeEpoch == nil {
			continue
		}
		if *o.DatetimeEpoch >= latest[o.StationID]-windowSeconds {
			keep = append(keep, o)
		}
	}
	return keep
}

// MergeIncremental folds an incoming document into the existing one:
// only rows newer than each station's latest known epoch are appended,
// duplicates on (station, epoch) are skipped, and the result is always
// pruned to the trailing window per station, resorted, with metadata and
// station totals refreshed from the incoming document.
func MergeIncremental(existing, incoming *MetricDocument, window time.Duration) *MetricDocument {
	latest := latestByStation(existing.Observations)

	type pair struct {
		sid   string
		epoch int64
	}
	seen := make(map[pair]struct{}, len(existing.Observations))
	for _, o := range existing.Observations {
		if o.DatetimeEpoch != nil {
			seen[pair{o.StationID, *o.DatetimeEpoch}] = struct{}{}
		}
	}

	merged := append([]Observation(nil), existing.Observations...)
	for _, o := range incoming.Observations {
		if o.StationID == "" || o.DatetimeEpoch == nil {
			continue
		}
		if _, dup := seen[pair{o.StationID, *o.DatetimeEpoch}]; dup {
			continue
		}
		last, ok := latest[o.StationID]
		if !ok {
			last = math.MinInt64
		}
		if *o.DatetimeEpoch > last {
			merged = append(merged, o)
		}
	}

	merged = PruneByStationWindow(merged, window)
	sortObservations(merged)

	out := &MetricDocument{
		Abbreviation:    incoming.Abbreviation,
		EnDescription:   incoming.EnDescription,
		LvDescription:   incoming.LvDescription,
		Scale:           incoming.Scale,
		LowerLimit:      incoming.LowerLimit,
		UpperLimit:      incoming.UpperLimit,
		MeasurementUnit: incoming.MeasurementUnit,
		TotalStations:   countStations(merged),
		Observations:    merged,
	}
	return out
}
