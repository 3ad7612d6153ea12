package observations

// Station is a known ASOS/AWOS station with its coordinates and the H3 cell
// those coordinates fall into. The cell identifier is an opaque string; the
// spatial index that produced it lives upstream.
type Station struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	H3Cell    string  `json:"h3_cell"`
	Source    Source  `json:"source"`
}

// Catalogue is an immutable lookup table of known stations indexed by cell.
type Catalogue struct {
	byCell map[string][]Station
	all    []Station
}

// NewCatalogue builds a catalogue from a station list. The input slice is
// copied; the catalogue never changes after construction.
func NewCatalogue(stations []Station) *Catalogue {
	c := &Catalogue{
		byCell: make(map[string][]Station),
		all:    make([]Station, len(stations)),
	}
	copy(c.all, stations)
	for _, s := range c.all {
		c.byCell[s.H3Cell] = append(c.byCell[s.H3Cell], s)
	}
	return c
}

// defaultStations is a representative sample of major US airport stations.
// In production this would be synced from the FAA/NOAA station lists into a
// database table; the cell identifiers were precomputed at resolution 7 by
// the upstream spatial indexer.
var defaultStations = []Station{
	{ID: "KJFK", Latitude: 40.6413, Longitude: -73.7781, H3Cell: "872a100d2ffffff", Source: SourceASOS},
	{ID: "KLAX", Latitude: 33.9425, Longitude: -118.4081, H3Cell: "8729a1d51ffffff", Source: SourceASOS},
	{ID: "KORD", Latitude: 41.9742, Longitude: -87.9073, H3Cell: "872664c25ffffff", Source: SourceASOS},
	{ID: "KATL", Latitude: 33.6407, Longitude: -84.4277, H3Cell: "8744e6a4dffffff", Source: SourceASOS},
	{ID: "KDEN", Latitude: 39.8561, Longitude: -104.6737, H3Cell: "8726e1d19ffffff", Source: SourceASOS},
	{ID: "KDFW", Latitude: 32.8998, Longitude: -97.0403, H3Cell: "87446d24affffff", Source: SourceASOS},
	{ID: "KSFO", Latitude: 37.6213, Longitude: -122.3790, H3Cell: "872830e63ffffff", Source: SourceASOS},
	{ID: "KBOS", Latitude: 42.3656, Longitude: -71.0096, H3Cell: "872a306e6ffffff", Source: SourceASOS},
	{ID: "KMIA", Latitude: 25.7959, Longitude: -80.2870, H3Cell: "8744f0b05ffffff", Source: SourceASOS},
	{ID: "KSEA", Latitude: 47.4502, Longitude: -122.3088, H3Cell: "8728d5509ffffff", Source: SourceASOS},
}

// NewDefaultCatalogue returns the built-in station catalogue.
func NewDefaultCatalogue() *Catalogue {
	return NewCatalogue(defaultStations)
}

// StationsInCell returns the known stations whose coordinates fall inside the
// given H3 cell. An empty result is a normal outcome, not an error.
func (c *Catalogue) StationsInCell(cell string) []Station {
	stations := c.byCell[cell]
	out := make([]Station, len(stations))
	copy(out, stations)
	return out
}

// All returns every station in the catalogue.
func (c *Catalogue) All() []Station {
	out := make([]Station, len(c.all))
	copy(out, c.all)
	return out
}
