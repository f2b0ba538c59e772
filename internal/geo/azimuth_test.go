package geo

import (
	"math"
	"testing"
)

func TestAzimuthCardinal(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"due north", 0, 0, 1, 0, 0},
		{"due east", 0, 0, 0, 1, 90},
		{"due south", 1, 0, 0, 0, 180},
		{"due west", 0, 1, 0, 0, 270},
	}
	for _, tc := range cases {
		got := Azimuth(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: azimuth = %g, want %g", tc.name, got, tc.want)
		}
	}
}

func TestBackAzimuthOpposesAzimuth(t *testing.T) {
	// On the equator the back-azimuth is the azimuth plus 180 degrees.
	azi := Azimuth(0, -120.3, 0, -119.1)
	baz := BackAzimuth(0, -120.3, 0, -119.1)
	if math.Abs(math.Mod(baz-azi+360, 360)-180) > 1e-9 {
		t.Fatalf("azimuth %g and back-azimuth %g are not opposed", azi, baz)
	}
}

func TestDistanceKM(t *testing.T) {
	// One degree of latitude is roughly 111.19 km on a 6371 km sphere.
	d := DistanceKM(35.0, -120.0, 36.0, -120.0)
	if math.Abs(d-111.19) > 0.1 {
		t.Fatalf("distance = %g km, want about 111.19", d)
	}
	if DistanceKM(35.5, -120.5, 35.5, -120.5) != 0 {
		t.Fatal("distance of a point to itself must be zero")
	}
}
