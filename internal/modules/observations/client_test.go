package observations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `#DEBUG: comment line from the server
#DEBUG: another comment
station,valid,p01m,sknt,tmpf
KJFK,2026-03-15 12:00,10.00,14.0,41.0
KJFK,2026-03-15 13:00,M,20.0,M
KJFK,2026-03-15 14:00,T,M,32.0
KJFK,2026-03-15 15:00,garbage,5.0,50.0
`

func testStation() Station {
	return Station{ID: "KJFK", Latitude: 40.6413, Longitude: -73.7781, H3Cell: "872a100d2ffffff", Source: SourceASOS}
}

func TestFetchObservationsParsesCSV(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), zerolog.Nop())
	start := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 15, 16, 0, 0, 0, time.UTC)

	obs, err := client.FetchObservations(context.Background(), testStation(), start, end)
	require.NoError(t, err)
	require.Len(t, obs, 4)

	// Query parameters match the IEM request contract.
	assert.Equal(t, "KJFK", gotQuery["station"])
	assert.Equal(t, "p01m,sknt,tmpf", gotQuery["data"])
	assert.Equal(t, "Etc/UTC", gotQuery["tz"])
	assert.Equal(t, "comma", gotQuery["format"])
	assert.Equal(t, "2026", gotQuery["year1"])
	assert.Equal(t, "03", gotQuery["month1"])
	assert.Equal(t, "15", gotQuery["day1"])
	assert.Equal(t, "12", gotQuery["hour1"])
	assert.Equal(t, "16", gotQuery["hour2"])

	first := obs[0]
	assert.Equal(t, "KJFK", first.StationID)
	assert.Equal(t, SourceASOS, first.Source)
	assert.Equal(t, "872a100d2ffffff", first.H3Cell)
	assert.Equal(t, time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC), first.ObservedAt)
	require.NotNil(t, first.PrecipitationMM)
	assert.InDelta(t, 10.0, *first.PrecipitationMM, 1e-9)
	require.NotNil(t, first.WindSpeedMS)
	assert.InDelta(t, 14.0*0.514444, *first.WindSpeedMS, 1e-9)
	require.NotNil(t, first.TemperatureC)
	assert.InDelta(t, 5.0, *first.TemperatureC, 1e-9) // 41F -> 5C
}

func TestFetchObservationsSentinels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), zerolog.Nop())
	obs, err := client.FetchObservations(context.Background(), testStation(),
		time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 15, 16, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, obs, 4)

	// "M" missing sentinel.
	assert.Nil(t, obs[1].PrecipitationMM)
	assert.Nil(t, obs[1].TemperatureC)
	assert.NotNil(t, obs[1].WindSpeedMS)

	// "T" trace maps to missing, as does a missing wind.
	assert.Nil(t, obs[2].PrecipitationMM)
	assert.Nil(t, obs[2].WindSpeedMS)
	assert.NotNil(t, obs[2].TemperatureC)

	// Unparseable values map to missing rather than failing the row.
	assert.Nil(t, obs[3].PrecipitationMM)
	assert.NotNil(t, obs[3].WindSpeedMS)
}

func TestFetchObservationsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), zerolog.Nop())
	_, err := client.FetchObservations(context.Background(), testStation(), time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestFetchObservationsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#DEBUG: nothing to see\n"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), zerolog.Nop())
	obs, err := client.FetchObservations(context.Background(), testStation(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestUnitConversions(t *testing.T) {
	assert.InDelta(t, 5.14444, KnotsToMS(10), 1e-9)
	assert.InDelta(t, 10.0, MSToKnots(KnotsToMS(10)), 1e-9)
	assert.InDelta(t, 0.0, FahrenheitToCelsius(32), 1e-9)
	assert.InDelta(t, 100.0, FahrenheitToCelsius(212), 1e-9)
	assert.InDelta(t, -40.0, FahrenheitToCelsius(-40), 1e-9)
}
