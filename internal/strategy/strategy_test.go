package strategy

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		question string
		want     Classification
	}{
		{"Compare raft and paxos", Comparative},
		{"postgres vs mysql for analytics", Comparative},
		{"What is the difference between a mutex and a semaphore?", Comparative},
		{"top 5 sorting algorithms", Comparative},
		{"Give me an overview of the billing module", BroadSearch},
		{"Explain how leader election works", BroadSearch},
		{"tell me about the deployment process", BroadSearch},
		{"What port does the gateway listen on?", TargetedLookup},
		{"who approved invoice 4411", TargetedLookup},
	}

	for _, tc := range cases {
		if got := Classify(tc.question); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.question, got, tc.want)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	q := "Compare the overview of raft versus paxos"
	first := Classify(q)
	for i := 0; i < 10; i++ {
		if got := Classify(q); got != first {
			t.Fatalf("classification changed between calls: %s then %s", first, got)
		}
	}
}

func newTestSelector() *Selector {
	return NewSelector(10, 30, 0.35, 50, 1000)
}

func TestSelectComparative(t *testing.T) {
	s := newTestSelector()

	p := s.Select(Comparative, 12)
	if p.K != 12 || !p.Diversify {
		t.Errorf("small comparative: got %+v", p)
	}

	p = s.Select(Comparative, 5000)
	if p.K != 30 || !p.Diversify {
		t.Errorf("large comparative must cap k at 30: got %+v", p)
	}
}

func TestSelectTargetedSmallCorpusIsExhaustive(t *testing.T) {
	s := newTestSelector()

	p := s.Select(TargetedLookup, 40)
	if p.K != 40 || !p.Diversify {
		t.Errorf("got %+v, want k=40 diversify=true", p)
	}
}

func TestSelectTargetedLargeCorpusUsesDefaultK(t *testing.T) {
	s := newTestSelector()

	p := s.Select(TargetedLookup, 500)
	if p.K != 10 || p.Diversify {
		t.Errorf("got %+v, want k=10 diversify=false", p)
	}
}

func TestSelectBroad(t *testing.T) {
	s := newTestSelector()

	p := s.Select(BroadSearch, 500)
	if p.K != 20 || !p.Diversify {
		t.Errorf("got %+v, want k=20 diversify=true", p)
	}
}

func TestSelectLowersThresholdForLargeCorpora(t *testing.T) {
	s := newTestSelector()

	small := s.Select(TargetedLookup, 500)
	large := s.Select(TargetedLookup, 2000)
	if small.Threshold != 0.35 {
		t.Errorf("mid corpus threshold = %g, want 0.35", small.Threshold)
	}
	if large.Threshold >= small.Threshold {
		t.Errorf("large corpus threshold %g must be lower than %g", large.Threshold, small.Threshold)
	}
}

func TestSelectNeverReturnsZeroK(t *testing.T) {
	s := newTestSelector()

	for _, class := range []Classification{BroadSearch, TargetedLookup, Comparative} {
		if p := s.Select(class, 0); p.K < 1 {
			t.Errorf("%s with empty corpus: k = %d", class, p.K)
		}
	}
}
