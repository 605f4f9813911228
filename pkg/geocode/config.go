package geocode

// Config holds per-provider settings. The CLI fills it from the application
// config; tests build it directly.
type Config struct {
	DefaultState string          `yaml:"default_state" mapstructure:"default_state"`
	Census       CensusConfig    `yaml:"census" mapstructure:"census"`
	Nominatim    NominatimConfig `yaml:"nominatim" mapstructure:"nominatim"`
	Geocodio     GeocodioConfig  `yaml:"geocodio" mapstructure:"geocodio"`
	Mapbox       MapboxConfig    `yaml:"mapbox" mapstructure:"mapbox"`
	Google       GoogleConfig    `yaml:"google" mapstructure:"google"`
	Photon       PhotonConfig    `yaml:"photon" mapstructure:"photon"`
	USPS         USPSConfig      `yaml:"usps" mapstructure:"usps"`
}

// CensusConfig configures the Census Bureau batch geocoder.
type CensusConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Benchmark   string `yaml:"benchmark" mapstructure:"benchmark"`
	Vintage     string `yaml:"vintage" mapstructure:"vintage"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NominatimConfig configures the OpenStreetMap Nominatim search API.
type NominatimConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Email       string `yaml:"email" mapstructure:"email"`
	DelayMillis int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// GeocodioConfig configures the Geocodio batch API.
type GeocodioConfig struct {
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Version     string `yaml:"version" mapstructure:"version"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MapboxConfig configures the Mapbox v6 batch geocoder.
type MapboxConfig struct {
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Country     string `yaml:"country" mapstructure:"country"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// GoogleConfig configures the Google Geocoding API.
type GoogleConfig struct {
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Region      string `yaml:"region" mapstructure:"region"`
	DelayMillis int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PhotonConfig configures the Komoot Photon search API.
type PhotonConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	DelayMillis int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DefaultState: "GA",
		Census: CensusConfig{
			BaseURL:     "https://geocoding.geo.census.gov/geocoder",
			Benchmark:   "Public_AR_Current",
			Vintage:     "Current_Current",
			TimeoutSecs: 300,
		},
		Nominatim: NominatimConfig{
			BaseURL:     "https://nominatim.openstreetmap.org",
			DelayMillis: 1000,
			TimeoutSecs: 30,
		},
		Geocodio: GeocodioConfig{
			BaseURL:     "https://api.geocod.io",
			Version:     "v1.7",
			TimeoutSecs: 600,
		},
		Mapbox: MapboxConfig{
			BaseURL:     "https://api.mapbox.com",
			Country:     "us",
			TimeoutSecs: 300,
		},
		Google: GoogleConfig{
			BaseURL:     "https://maps.googleapis.com/maps/api/geocode/json",
			Region:      "us",
			DelayMillis: 100,
			TimeoutSecs: 30,
		},
		Photon: PhotonConfig{
			BaseURL:     "https://photon.komoot.io",
			DelayMillis: 1000,
			TimeoutSecs: 30,
		},
		USPS: USPSConfig{
			BaseURL:     "https://apis.usps.com/addresses/v3",
			DelayMillis: 50,
			TimeoutSecs: 30,
		},
	}
}

// USPSConfig configures the USPS Addresses API used for address validation.
// BaseURL ends in /addresses/v3; the OAuth token endpoint is derived from it.
type USPSConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	DelayMillis  int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// orDefault returns v unless it is the zero value.
func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
