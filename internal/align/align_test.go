package align

import "testing"

func TestAddress(t *testing.T) {
	cases := []struct {
		addr, alignment, want uint64
	}{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{5, 0, 5},
	}

	for _, c := range cases {
		if got := Address(c.addr, c.alignment); got != c.want {
			t.Errorf("Address(%d, %d) = %d, want %d", c.addr, c.alignment, got, c.want)
		}
	}
}
