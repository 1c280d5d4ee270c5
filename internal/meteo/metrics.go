package meteo

// Metric describes one entry of the metric catalog.
type Metric struct {
	Abbreviation string `json:"abbreviation"`
	Description  string `json:"description"`
}

// catalog lists the metric abbreviations published in the operational feed
// with their English descriptions.
var catalog = []Metric{
	{"HATMN", "The hourly minimum of air temperature"},
	{"HPRAB", "The total amount of precipitation within an hour"},
	{"HPRSL", "The hourly average atmospheric pressure at sea level"},
	{"HRLH", "The hourly average relative humidity"},
	{"HSNOW", "The hourly average snow depth"},
	{"HTDRY", "The hourly average air temperature"},
	{"HWDAV", "The hourly average wind direction"},
	{"HWDMX", "The direction of the hourly maximum wind gusts"},
	{"HWNDS", "The hourly average wind speed"},
	{"VSBAV", "The hourly average meteorological visibility"},
	{"WNS10", "Average wind speed during the observation time"},
	{"WPGST", "Maximum wind gusts during the observation time"},
	{"VSBA", "Meteorological visibility during the observation time"},
	{"SNOWA", "Snow depth during the observation time"},
	{"WNDD10", "Average wind direction during the observation time"},
	{"PHENO", "Atmospheric phenomena"},
	{"PRSL", "Atmospheric pressure at sea level during the observation time"},
	{"RLH", "Relative humidity during the observation time"},
	{"TDRY", "Air temperature during the observation time"},
	{"LI10I", "Number of lightning strikes with current > 10 kA"},
	{"LICC", "Number of cloud-cloud lightning strikes"},
	{"LIGC", "Number of cloud-ground lightning strikes"},
	{"LIMAXI", "Maximum current of lightning strikes"},
	{"LITOT", "Total number of lightning strikes"},
	{"HATMX", "The hourly maximum of air temperature"},
	{"HWSMX", "The hourly maximum wind gusts"},
	{"PRSS", "Atmospheric pressure at station level during the observation time"},
	{"SAJT", "Apparent temperature during the observation time"},
	{"CCTMX", "The hourly maximum amount of cloud cover"},
	{"UVIL", "Ultraviolet radiation index during the observation time"},
}

// Catalog returns the known metrics in feed order.
func Catalog() []Metric {
	out := make([]Metric, len(catalog))
	copy(out, catalog)
	return out
}

// Abbreviations returns the known metric abbreviations in feed order.
func Abbreviations() []string {
	out := make([]string, len(catalog))
	for i, m := range catalog {
		out[i] = m.Abbreviation
	}
	return out
}

// IsKnown reports whether abbr is part of the catalog.
func IsKnown(abbr string) bool {
	for _, m := range catalog {
		if m.Abbreviation == abbr {
			return true
		}
	}
	return false
}
