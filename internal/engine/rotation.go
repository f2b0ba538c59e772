package engine

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/ambientstack/noisecc/internal/config"
	"github.com/ambientstack/noisecc/internal/geo"
	"github.com/ambientstack/noisecc/internal/models"
)

// MissingCorrectionError reports a station absent from the orientation
// correction table while correction is enabled. This aborts the run.
type MissingCorrectionError struct {
	Station string
}

func (e *MissingCorrectionError) Error() string {
	return fmt.Sprintf("station %s has no entry in the orientation correction table", e.Station)
}

// Rotator converts a full 3x3 set of sensor-axis stacked components into
// geographic-axis components using the pair's azimuth and back-azimuth.
type Rotator struct {
	logger *slog.Logger

	correction bool
	angles     map[string]float64
}

// NewRotator builds a rotator, loading the static orientation correction
// table when correction is enabled.
func NewRotator(logger *slog.Logger, cfg config.RotationConfig) (*Rotator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rotator{logger: logger, correction: cfg.Correction}
	if cfg.Correction {
		angles, err := loadCorrectionTable(cfg.CorrectionFile)
		if err != nil {
			return nil, err
		}
		r.angles = angles
	}
	return r, nil
}

// loadCorrectionTable reads a station,angle CSV. Angles are degrees added to
// the nominal sensor orientation.
func loadCorrectionTable(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open correction table: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse correction table: %w", err)
	}

	angles := make(map[string]float64, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("correction table row %d has %d columns, want 2", i+1, len(row))
		}
		if i == 0 && row[1] == "angle" {
			continue
		}
		angle, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("correction table row %d: bad angle %q: %w", i+1, row[1], err)
		}
		angles[row[0]] = angle
	}
	return angles, nil
}

// Rotate maps the 9 sensor-axis component waveforms (ordered as
// models.ENZComponents) into the 9 geographic-axis waveforms (ordered as
// models.RTZComponents). An entirely zero-valued input is skipped: the
// returned slice is nil with no error.
func (r *Rotator) Rotate(waves [][]float64, source, receiver models.StationMeta) ([][]float64, error) {
	if len(waves) != len(models.ENZComponents) {
		return nil, fmt.Errorf("rotation needs %d component waveforms, got %d",
			len(models.ENZComponents), len(waves))
	}
	if allZero(waves) {
		r.logger.Debug("skipping rotation of all-zero component set",
			slog.String("pair", models.PairKey(source, receiver)))
		return nil, nil
	}

	azi := geo.Azimuth(source.Latitude, source.Longitude, receiver.Latitude, receiver.Longitude)
	baz := geo.BackAzimuth(source.Latitude, source.Longitude, receiver.Latitude, receiver.Longitude)

	if r.correction {
		srcCorr, ok := r.angles[source.StationKey()]
		if !ok {
			return nil, &MissingCorrectionError{Station: source.StationKey()}
		}
		rcvCorr, ok := r.angles[receiver.StationKey()]
		if !ok {
			return nil, &MissingCorrectionError{Station: receiver.StationKey()}
		}
		azi += srcCorr
		baz += rcvCorr
	}

	// The receiver radial points along the propagation direction, which is
	// the back-azimuth turned by 180 degrees.
	k := pairRotation(azi, baz+180)
	rotated := applyRotation(k, waves)
	return reorderToRTZ(rotated), nil
}

// rotationMatrix maps (E, N, Z) to (R, T, Z) for a radial direction theta
// degrees clockwise from north. A proper rotation: its transpose inverts it.
func rotationMatrix(thetaDeg float64) *mat.Dense {
	t := thetaDeg * math.Pi / 180
	sin, cos := math.Sin(t), math.Cos(t)
	return mat.NewDense(3, 3, []float64{
		sin, cos, 0,
		-cos, sin, 0,
		0, 0, 1,
	})
}

// pairRotation combines the source and receiver rotations into the 9x9
// transform acting on source-major component vectors.
func pairRotation(sourceDeg, receiverDeg float64) *mat.Dense {
	var k mat.Dense
	k.Kronecker(rotationMatrix(sourceDeg), rotationMatrix(receiverDeg))
	return &k
}

// applyRotation multiplies the 9x9 transform with the component-by-sample
// data matrix. Input rows are source-major (E,N,Z)x(E,N,Z); output rows are
// source-major (R,T,Z)x(R,T,Z).
func applyRotation(k *mat.Dense, waves [][]float64) [][]float64 {
	npts := len(waves[0])
	data := mat.NewDense(len(waves), npts, nil)
	for i, w := range waves {
		data.SetRow(i, w)
	}

	var product mat.Dense
	product.Mul(k, data)

	out := make([][]float64, len(waves))
	for i := range out {
		out[i] = mat.Row(nil, i, &product)
	}
	return out
}

// rtzSourceMajor is the row order produced by applyRotation.
var rtzSourceMajor = []string{"RR", "RT", "RZ", "TR", "TT", "TZ", "ZR", "ZT", "ZZ"}

// reorderToRTZ rearranges source-major rotation output into the published
// models.RTZComponents order.
func reorderToRTZ(rotated [][]float64) [][]float64 {
	index := make(map[string]int, len(rtzSourceMajor))
	for i, comp := range rtzSourceMajor {
		index[comp] = i
	}
	out := make([][]float64, len(models.RTZComponents))
	for i, comp := range models.RTZComponents {
		out[i] = rotated[index[comp]]
	}
	return out
}

func allZero(waves [][]float64) bool {
	for _, w := range waves {
		for _, v := range w {
			if v != 0 {
				return false
			}
		}
	}
	return true
}
