package hotspot

import "github.com/rewired-gh/sitwatch/internal/models"

// Defaults returns the built-in hotspot catalogue.
func Defaults() []models.Hotspot {
	return []models.Hotspot{
		{Name: "Taiwan Strait", Lat: 24.0, Lon: 119.5, Keywords: []string{"taiwan", "taipei", "strait", "pla navy"}},
		{Name: "Strait of Hormuz", Lat: 26.6, Lon: 56.3, Keywords: []string{"hormuz", "persian gulf", "tanker", "irgc"}},
		{Name: "Gaza", Lat: 31.4, Lon: 34.4, Keywords: []string{"gaza", "hamas", "rafah", "khan younis"}},
		{Name: "Kyiv", Lat: 50.45, Lon: 30.52, Keywords: []string{"kyiv", "kiev", "ukraine", "zelensky"}},
		{Name: "Red Sea", Lat: 15.5, Lon: 41.8, Keywords: []string{"red sea", "houthi", "bab el-mandeb", "yemen"}},
		{Name: "Korean Peninsula", Lat: 38.3, Lon: 127.0, Keywords: []string{"north korea", "pyongyang", "dmz", "kim jong"}},
		{Name: "South China Sea", Lat: 12.0, Lon: 114.0, Keywords: []string{"south china sea", "spratly", "scarborough", "paracel"}},
		{Name: "Kashmir", Lat: 34.1, Lon: 74.8, Keywords: []string{"kashmir", "line of control", "srinagar"}},
		{Name: "Sahel", Lat: 15.0, Lon: 0.0, Keywords: []string{"sahel", "mali", "burkina faso", "niger junta"}},
		{Name: "Caracas", Lat: 10.5, Lon: -66.9, Keywords: []string{"venezuela", "caracas", "maduro"}},
	}
}
