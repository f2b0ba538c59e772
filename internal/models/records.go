package models

import "fmt"

// PairKey builds the archive key for an ordered station pair,
// e.g. "TO.PASC_TO.RPV".
func PairKey(source, receiver StationMeta) string {
	return source.StationKey() + "_" + receiver.StationKey()
}

// ComponentPair builds the two-letter component label for an ordered channel
// pair, e.g. "EN" for an east source against a north receiver.
func ComponentPair(source, receiver StationMeta) string {
	return source.Component() + receiver.Component()
}

// ENZComponents lists the sensor-axis component pairs in stacking order.
var ENZComponents = []string{"EE", "EN", "EZ", "NE", "NN", "NZ", "ZE", "ZN", "ZZ"}

// RTZComponents lists the geographic-axis component pairs produced by rotation,
// index-aligned with the rotated output.
var RTZComponents = []string{"ZR", "ZT", "ZZ", "RR", "RT", "RZ", "TR", "TT", "TZ"}

// CorrelationRecord is one cross-spectrum result for an ordered channel pair
// over one time chunk. Waveforms holds either a single full-chunk correlation
// or one sub-window correlation per substack interval; Times and Ngood are
// parallel to Waveforms.
type CorrelationRecord struct {
	ChunkID         string
	Pair            string
	SourceChannel   string
	ReceiverChannel string
	Component       string

	Waveforms [][]float64
	Times     []float64
	Ngood     []int

	Params CorrelationParams
}

// CorrelationParams is the parameter set persisted alongside every
// correlation record.
type CorrelationParams struct {
	LonS       float64 `yaml:"lonS" json:"lonS"`
	LatS       float64 `yaml:"latS" json:"latS"`
	LonR       float64 `yaml:"lonR" json:"lonR"`
	LatR       float64 `yaml:"latR" json:"latR"`
	DistKM     float64 `yaml:"dist" json:"dist"`
	Azimuth    float64 `yaml:"azi" json:"azi"`
	BackAzi    float64 `yaml:"baz" json:"baz"`
	SampleRate float64 `yaml:"sampFreq" json:"sampFreq"`
	MaxLagSec  float64 `yaml:"maxlag" json:"maxlag"`
	Method     string  `yaml:"method" json:"method"`
}

// Validate checks the parallel-sequence invariant of the record.
func (r *CorrelationRecord) Validate() error {
	if len(r.Waveforms) == 0 {
		return fmt.Errorf("correlation record %s/%s has no waveforms", r.Pair, r.Component)
	}
	if len(r.Waveforms) != len(r.Times) || len(r.Waveforms) != len(r.Ngood) {
		return fmt.Errorf("correlation record %s/%s: %d waveforms, %d times, %d ngood",
			r.Pair, r.Component, len(r.Waveforms), len(r.Times), len(r.Ngood))
	}
	return nil
}

// StackResult is one final stacked waveform for a station pair and component.
// Label carries the stacking-method archive key ("Allstack_linear", ...) or a
// timestamp key ("T<unix>") for retained substacks.
type StackResult struct {
	Pair      string
	Component string
	Label     string

	Waveform []float64
	Time     float64
	Ngood    int

	StationSource   string
	StationReceiver string
}

// StackLabel returns the archive label for a stacking method.
func StackLabel(method StackMethod) string {
	return "Allstack_" + string(method)
}
