package entropy

import "testing"

func TestSameSeedSameStream(t *testing.T) {
	a := New(7)
	b := New(7)
	for i := 0; i < 50; i++ {
		if x, y := a.Intn(1000), b.Intn(1000); x != y {
			t.Fatalf("draw %d: %d != %d", i, x, y)
		}
	}
}

func TestZeroSeedIsReplaced(t *testing.T) {
	s := New(0)
	if s.Seed() == 0 {
		t.Fatal("expected a non-zero seed")
	}
	replay := New(s.Seed())
	if s.Intn(1<<30) != replay.Intn(1<<30) {
		t.Fatal("stream should replay from its reported seed")
	}
}

func TestSample(t *testing.T) {
	s := New(3)
	got := s.Sample(10, 4)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	seen := map[int]bool{}
	for _, v := range got {
		if v < 0 || v >= 10 || seen[v] {
			t.Fatalf("bad sample %v", got)
		}
		seen[v] = true
	}
	if all := s.Sample(3, 10); len(all) != 3 {
		t.Fatalf("oversized sample len = %d, want 3", len(all))
	}
}

func TestIntRange(t *testing.T) {
	s := New(11)
	for i := 0; i < 200; i++ {
		v := s.IntRange(2, 5)
		if v < 2 || v > 5 {
			t.Fatalf("out of range: %d", v)
		}
	}
	if v := s.IntRange(4, 4); v != 4 {
		t.Fatalf("degenerate range = %d", v)
	}
}
