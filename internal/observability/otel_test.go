package observability

import "testing"

func TestSampleRatioClampsEnv(t *testing.T) {
	cases := map[string]float64{
		"":       0.1,
		"0.25":   0.25,
		"-3":     0,
		"7":      1,
		"gibber": 0.1,
		"0":      0,
		"1":      1,
	}
	for raw, want := range cases {
		t.Setenv("OTEL_SAMPLER_RATIO", raw)
		if got := sampleRatio(); got != want {
			t.Fatalf("ratio %q: want %v, got %v", raw, want, got)
		}
	}
}
