package config

func ptr(v float64) *float64 { return &v }

// DefaultTargets are scanned when no plan file is configured.
func DefaultTargets() []TargetConfig {
	return []TargetConfig{
		{ID: "lagos", Name: "Lagos, Nigeria", Lat: ptr(6.524), Lon: ptr(3.379), Zoom: 0.1},
		{ID: "tokyo", Name: "Tokyo, Japan", Lat: ptr(35.676), Lon: ptr(139.650), Zoom: 0.1},
		{ID: "delta", Name: "Niger Delta (Flares)", Lat: ptr(4.5), Lon: ptr(7.0), Zoom: 0.5},
	}
}

// DefaultLayers are the GIBS products observed when no plan file is configured.
// Night lights have a lower noise floor than daytime optical, hence the
// stronger enhancement.
func DefaultLayers() []LayerConfig {
	return []LayerConfig{
		{
			Name:        "visual",
			ProviderID:  "MODIS_Terra_CorrectedReflectance_TrueColor",
			Format:      "image/jpeg",
			Width:       800,
			Height:      600,
			Enhancement: 3.0,
		},
		{
			Name:        "night",
			ProviderID:  "VIIRS_SNPP_DayNightBand_ENCC",
			Format:      "image/png",
			Transparent: true,
			Width:       800,
			Height:      800,
			Enhancement: 5.0,
		},
		{
			Name:        "thermal",
			ProviderID:  "MODIS_Terra_Land_Surface_Temp_Day",
			Format:      "image/png",
			Transparent: true,
			Width:       800,
			Height:      600,
			Enhancement: 4.0,
		},
	}
}
