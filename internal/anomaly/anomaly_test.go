package anomaly

import "testing"

func TestScore_Starved(t *testing.T) {
	d := Score([]int64{100, 101, 99}, 500)
	if !d.Starved {
		t.Errorf("expected Starved with fewer than %d samples", MinSamples)
	}
}

func TestScore_S5Scenario(t *testing.T) {
	prior := []int64{100, 102, 101, 99, 100, 98, 103, 100, 101, 100}
	d := Score(prior, 600)

	if d.Starved {
		t.Fatal("unexpected starvation with 10 prior samples")
	}
	if !d.Anomalous {
		t.Errorf("expected anomalous score, got %v", d.Score)
	}
	if !d.Severe {
		t.Errorf("expected severe (score >= 6), got %v", d.Score)
	}
	if !d.Larger {
		t.Errorf("expected reason larger_than_expected")
	}
}

func TestScore_WithinThreshold(t *testing.T) {
	prior := []int64{100, 102, 101, 99, 100, 98, 103, 100, 101, 100}
	d := Score(prior, 101)

	if d.Anomalous {
		t.Errorf("expected no anomaly for a value close to the median, got score %v", d.Score)
	}
}

func TestScore_SmallerThanExpected(t *testing.T) {
	prior := []int64{100, 102, 101, 99, 100, 98, 103, 100, 101, 100}
	d := Score(prior, 10)

	if d.Larger {
		t.Errorf("expected reason smaller_than_expected")
	}
}

func TestScore_IgnoresNonPositiveSamples(t *testing.T) {
	prior := []int64{100, 101, 99, 0, -5, 102, 100}
	d := Score(prior, 100)
	if d.Starved {
		t.Fatal("5 positive samples should be enough, not starved")
	}
}
