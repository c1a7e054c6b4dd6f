package config

import (
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"
)

var geocoderMu sync.Mutex

// geocode resolves a place name to coordinates. Swapped out in tests.
var geocode = func(apiKey, name string) (float64, float64, error) {
	geocoderMu.Lock()
	defer geocoderMu.Unlock()

	geocoder.ApiKey = apiKey
	loc, err := geocoder.Geocoding(geocoder.Address{City: name})
	if err != nil {
		return 0, 0, err
	}
	return loc.Latitude, loc.Longitude, nil
}

func coordinates(tc TargetConfig, apiKey string) (float64, float64, error) {
	if tc.Lat != nil && tc.Lon != nil {
		return *tc.Lat, *tc.Lon, nil
	}
	if apiKey == "" {
		return 0, 0, fmt.Errorf("target %q has no coordinates and GEOCODER_API_KEY is not set", tc.ID)
	}

	lat, lon, err := geocode(apiKey, tc.Name)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to geocode target %q (%s): %w", tc.ID, tc.Name, err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("geocoder returned invalid coordinates for %q: %f, %f", tc.ID, lat, lon)
	}
	return lat, lon, nil
}
