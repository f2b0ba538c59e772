package partition

import "testing"

func TestAssignCoversAllUnitsExactlyOnce(t *testing.T) {
	for _, tc := range []struct{ size, n int }{
		{1, 10}, {3, 10}, {4, 4}, {7, 3}, {2, 1},
	} {
		seen := make(map[int]int)
		for rank := 0; rank < tc.size; rank++ {
			for _, i := range Assign(rank, tc.size, tc.n) {
				if i%tc.size != rank {
					t.Fatalf("size=%d n=%d: unit %d assigned to rank %d", tc.size, tc.n, i, rank)
				}
				seen[i]++
			}
		}
		if len(seen) != tc.n {
			t.Fatalf("size=%d n=%d: covered %d units", tc.size, tc.n, len(seen))
		}
		for i, count := range seen {
			if count != 1 {
				t.Fatalf("size=%d n=%d: unit %d assigned %d times", tc.size, tc.n, i, count)
			}
		}
	}
}

func TestAssignBalancesWithinOne(t *testing.T) {
	size, n := 4, 13
	minLen, maxLen := n, 0
	for rank := 0; rank < size; rank++ {
		l := len(Assign(rank, size, n))
		if l < minLen {
			minLen = l
		}
		if l > maxLen {
			maxLen = l
		}
	}
	if maxLen-minLen > 1 {
		t.Fatalf("assignment imbalance %d, want at most 1", maxLen-minLen)
	}
}

func TestAssignRejectsBadArguments(t *testing.T) {
	if Assign(-1, 4, 10) != nil {
		t.Fatal("negative rank must yield no units")
	}
	if Assign(4, 4, 10) != nil {
		t.Fatal("rank beyond size must yield no units")
	}
	if Assign(0, 0, 10) != nil {
		t.Fatal("zero size must yield no units")
	}
	if Assign(0, 4, 0) != nil {
		t.Fatal("zero units must yield no units")
	}
}
