package models

import "fmt"

// StationMeta identifies one sensor channel and its location.
type StationMeta struct {
	Network   string
	Station   string
	Channel   string
	Location  string
	Latitude  float64
	Longitude float64
	Elevation float64
}

// StationKey returns the network-qualified station name, e.g. "TO.PASC".
func (m StationMeta) StationKey() string {
	return m.Network + "." + m.Station
}

// ChannelKey returns the fully qualified channel name, e.g. "TO.PASC.HHZ".
func (m StationMeta) ChannelKey() string {
	return fmt.Sprintf("%s.%s.%s", m.Network, m.Station, m.Channel)
}

// Component returns the single-letter component of the channel (E, N or Z).
func (m StationMeta) Component() string {
	if m.Channel == "" {
		return ""
	}
	c := m.Channel[len(m.Channel)-1:]
	// Some dataloggers report U (up) for the vertical component.
	if c == "U" {
		c = "Z"
	}
	return c
}

// ChannelSpectrum carries one channel's pre-processed data for a time chunk:
// whitened half-spectra for every time window, the per-window amplitude std
// used for quality screening, and the window start times (epoch seconds).
// The three sequences are parallel and equal-length.
type ChannelSpectrum struct {
	Meta    StationMeta
	Spectra [][]complex128
	Std     []float64
	Times   []float64
	Valid   bool
}

// Windows returns the number of time windows held by the spectrum.
func (s *ChannelSpectrum) Windows() int {
	return len(s.Spectra)
}

// Consistent reports whether the parallel sequences have equal length and
// every half-spectrum has the expected number of frequency samples.
func (s *ChannelSpectrum) Consistent(nfreq int) bool {
	if len(s.Spectra) != len(s.Std) || len(s.Spectra) != len(s.Times) {
		return false
	}
	for _, win := range s.Spectra {
		if len(win) != nfreq {
			return false
		}
	}
	return true
}
