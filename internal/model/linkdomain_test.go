package model

import "testing"

func TestLinkDomainCycleOnAdvance(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		current int
		max     int
		want    bool
	}{
		{"fresh domain keeps counting", 0, 100, false},
		{"one below the boundary keeps counting", 98, 100, false},
		{"final allowed use cycles", 99, 100, true},
		{"single-use domain cycles immediately", 0, 1, true},
		{"already at max cycles", 100, 100, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := LinkDomain{CurrentUsageCount: tc.current, MaxUsageCount: tc.max}
			if got := d.CycleOnAdvance(); got != tc.want {
				t.Fatalf("CycleOnAdvance(%d/%d) = %t, want %t", tc.current, tc.max, got, tc.want)
			}
		})
	}
}
