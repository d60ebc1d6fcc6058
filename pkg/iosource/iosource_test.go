package iosource

import "testing"

func TestBlockCount(t *testing.T) {
	cases := []struct {
		size, blockSize int64
		want            int64
	}{
		{0, 4096, 0},
		{4096, 4096, 1},
		{4097, 4096, 2},
		{8192, 4096, 2},
	}
	for _, c := range cases {
		if got := BlockCount(c.size, int(c.blockSize)); got != c.want {
			t.Errorf("BlockCount(%d, %d) = %d, want %d", c.size, c.blockSize, got, c.want)
		}
	}
}
