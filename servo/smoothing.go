package servo

import (
	"sync"

	"github.com/pkg/errors"
)

// A Smoother filters the stream of outgoing joint positions. It is invoked
// only from the servo worker goroutine.
type Smoother interface {
	// Initialize prepares the smoother for a group of the given size.
	Initialize(numJoints int) error
	// Reset discards filter history and seeds it with the given positions.
	Reset(positions []float64)
	// DoSmoothing filters the given positions in place.
	DoSmoothing(positions []float64)
}

// SmootherConstructor builds a smoother from the engine config.
type SmootherConstructor func(cfg Config) (Smoother, error)

var (
	smootherRegistryMu sync.RWMutex
	smootherRegistry   = map[string]SmootherConstructor{}
)

// RegisterSmoother makes a smoothing filter available by name. It panics if
// the name was already taken, mirroring other register-at-init APIs.
func RegisterSmoother(name string, ctor SmootherConstructor) {
	smootherRegistryMu.Lock()
	defer smootherRegistryMu.Unlock()
	if _, ok := smootherRegistry[name]; ok {
		panic(errors.Errorf("smoother %q already registered", name))
	}
	smootherRegistry[name] = ctor
}

func newSmoother(name string, cfg Config) (Smoother, error) {
	smootherRegistryMu.RLock()
	ctor, ok := smootherRegistry[name]
	smootherRegistryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown smoothing filter %q", name)
	}
	smoother, err := ctor(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "constructing smoothing filter %q", name)
	}
	return smoother, nil
}

// LowPassSmootherName names the built-in position low-pass filter.
const LowPassSmootherName = "lowpass"

const defaultLowPassFilterCoeff = 2.0

func init() {
	RegisterSmoother(LowPassSmootherName, func(cfg Config) (Smoother, error) {
		if cfg.LowPassFilterCoeff <= 1 {
			return nil, errors.New("low_pass_filter_coeff must be greater than 1")
		}
		return &lowPassSmoother{coeff: cfg.LowPassFilterCoeff}, nil
	})
}

// lowPassSmoother is a first-order low-pass on each joint position:
//
//	y_k = (x_k + (c-1) * y_{k-1}) / c
//
// Larger coefficients smooth more and lag more.
type lowPassSmoother struct {
	coeff    float64
	previous []float64
}

func (f *lowPassSmoother) Initialize(numJoints int) error {
	if numJoints <= 0 {
		return errors.New("cannot smooth an empty joint group")
	}
	f.previous = make([]float64, numJoints)
	return nil
}

func (f *lowPassSmoother) Reset(positions []float64) {
	copy(f.previous, positions)
}

func (f *lowPassSmoother) DoSmoothing(positions []float64) {
	for i := range positions {
		if i >= len(f.previous) {
			break
		}
		positions[i] = (positions[i] + (f.coeff-1)*f.previous[i]) / f.coeff
		f.previous[i] = positions[i]
	}
}
