package rtpcaps

import "testing"

func TestParseScalabilityMode(t *testing.T) {
	cases := []struct {
		mode string
		want ScalabilityMode
	}{
		{"L1T3", ScalabilityMode{SpatialLayers: 1, TemporalLayers: 3}},
		{"L3T3_KEY", ScalabilityMode{SpatialLayers: 3, TemporalLayers: 3, KeyShift: true}},
		{"S2T1", ScalabilityMode{SpatialLayers: 2, TemporalLayers: 1}},
		{"S2T3_KEY", ScalabilityMode{SpatialLayers: 2, TemporalLayers: 3, KeyShift: true}},
		{"", ScalabilityMode{SpatialLayers: 1, TemporalLayers: 1}},
		{"garbage", ScalabilityMode{SpatialLayers: 1, TemporalLayers: 1}},
		{"L20T3", ScalabilityMode{SpatialLayers: 20, TemporalLayers: 3}},
	}
	for _, c := range cases {
		got := ParseScalabilityMode(c.mode)
		if got != c.want {
			t.Errorf("ParseScalabilityMode(%q) = %+v, want %+v", c.mode, got, c.want)
		}
	}
}
