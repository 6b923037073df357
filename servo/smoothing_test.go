package servo

import (
	"testing"

	"go.viam.com/test"
)

func TestSmootherRegistry(t *testing.T) {
	_, err := newSmoother("does-not-exist", testConfig())
	test.That(t, err, test.ShouldNotBeNil)

	smoother, err := newSmoother(LowPassSmootherName, testConfig().withDefaults())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, smoother, test.ShouldNotBeNil)

	test.That(t, func() {
		RegisterSmoother(LowPassSmootherName, func(Config) (Smoother, error) { return nil, nil })
	}, test.ShouldPanic)
}

func TestLowPassSmoother(t *testing.T) {
	smoother, err := newSmoother(LowPassSmootherName, testConfig().withDefaults())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, smoother.Initialize(2), test.ShouldBeNil)

	// Seeded at the current positions, a constant input passes through.
	smoother.Reset([]float64{1, -1})
	positions := []float64{1, -1}
	smoother.DoSmoothing(positions)
	test.That(t, positions[0], test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, positions[1], test.ShouldAlmostEqual, -1, 1e-12)

	// A step input is attenuated and converges over repeated cycles.
	positions = []float64{2, -1}
	smoother.DoSmoothing(positions)
	test.That(t, positions[0], test.ShouldAlmostEqual, 1.5, 1e-12)
	for i := 0; i < 50; i++ {
		positions[0] = 2
		smoother.DoSmoothing(positions)
	}
	test.That(t, positions[0], test.ShouldAlmostEqual, 2, 1e-6)
}
