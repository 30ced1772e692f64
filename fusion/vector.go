package fusion

import (
	"math"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
)

// VectorConfig holds the model of a VectorEstimator: k channels observing one latent value.
type VectorConfig struct {
	// ChannelNoise is the diagonal of R, one variance per channel. Its length sets k.
	ChannelNoise []float64 `json:"channel_noise"`
	// ProcessNoise is the single entry of Q.
	ProcessNoise float64 `json:"process_noise"`
	// InitialCovariance is P at construction. Defaults to 100.
	InitialCovariance float64 `json:"initial_covariance,omitempty"`
	// Transition is the single entry of A. Defaults to 1, a constant-value model.
	Transition float64 `json:"transition,omitempty"`
	// Observation is the column H, how strongly each channel sees the latent value. Defaults to
	// all ones.
	Observation []float64 `json:"observation,omitempty"`
}

// DefaultVectorConfig returns the model used for four-sensor jaws. The outer sensors of a jaw
// carry a higher variance than the inner pair.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		ChannelNoise:      []float64{0.5, 0.05, 0.05, 0.5},
		ProcessNoise:      1e-4,
		InitialCovariance: 100,
		Transition:        1,
	}
}

func (cfg VectorConfig) withDefaults() VectorConfig {
	if cfg.InitialCovariance == 0 {
		cfg.InitialCovariance = 100
	}
	if cfg.Transition == 0 {
		cfg.Transition = 1
	}
	if len(cfg.Observation) == 0 {
		cfg.Observation = lo.Times(len(cfg.ChannelNoise), func(int) float64 { return 1 })
	}
	return cfg
}

// Validate checks the model dimensions and that R is a usable covariance.
func (cfg VectorConfig) Validate() error {
	cfg = cfg.withDefaults()
	if len(cfg.ChannelNoise) == 0 {
		return errors.New("channel_noise must list at least one channel variance")
	}
	if len(cfg.Observation) != len(cfg.ChannelNoise) {
		return errors.Errorf("observation has %d entries but channel_noise has %d",
			len(cfg.Observation), len(cfg.ChannelNoise))
	}
	for i, v := range cfg.ChannelNoise {
		if math.IsNaN(v) || v <= 0 {
			return errors.Errorf("channel_noise[%d] must be > 0, got %v", i, v)
		}
	}
	if cfg.ProcessNoise < 0 || math.IsNaN(cfg.ProcessNoise) {
		return errors.Errorf("process_noise must be >= 0, got %v", cfg.ProcessNoise)
	}
	if cfg.InitialCovariance < 0 {
		return errors.Errorf("initial_covariance must be >= 0, got %v", cfg.InitialCovariance)
	}
	return nil
}

// VectorEstimator fuses k correlated channels into one scalar estimate with a multivariate
// Kalman filter. The state is one-dimensional.
type VectorEstimator struct {
	a, h, q, r *mat.Dense
	eye        *mat.Dense
	p0         float64

	x      *mat.VecDense
	p      *mat.Dense
	seeded bool
}

// NewVectorEstimator builds an estimator for cfg. A singular measurement covariance is rejected
// here since R never changes afterwards.
func NewVectorEstimator(cfg VectorConfig) (*VectorEstimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	k := len(cfg.ChannelNoise)

	r := mat.NewDense(k, k, nil)
	for i, v := range cfg.ChannelNoise {
		r.Set(i, i, v)
	}
	var rInv mat.Dense
	if err := rInv.Inverse(r); err != nil {
		return nil, errors.Wrap(err, "measurement covariance is singular")
	}

	ve := &VectorEstimator{
		a:   mat.NewDense(1, 1, []float64{cfg.Transition}),
		h:   mat.NewDense(k, 1, append([]float64(nil), cfg.Observation...)),
		q:   mat.NewDense(1, 1, []float64{cfg.ProcessNoise}),
		r:   r,
		eye: mat.NewDense(1, 1, []float64{1}),
		p0:  cfg.InitialCovariance,
		x:   mat.NewVecDense(1, nil),
		p:   mat.NewDense(1, 1, []float64{cfg.InitialCovariance}),
	}
	if _, err := ve.innovationInverse(ve.predictCovariance()); err != nil {
		return nil, errors.Wrap(err, "innovation covariance is singular")
	}
	return ve, nil
}

// Channels returns k.
func (ve *VectorEstimator) Channels() int {
	r, _ := ve.h.Dims()
	return r
}

// Seed sets the prior estimate to the mean of z.
func (ve *VectorEstimator) Seed(z []float64) {
	ve.x.SetVec(0, lo.Mean(z))
	ve.seeded = true
}

// Seeded reports whether a prior has been set.
func (ve *VectorEstimator) Seeded() bool {
	return ve.seeded
}

func (ve *VectorEstimator) predictCovariance() *mat.Dense {
	var pMinus mat.Dense
	pMinus.Product(ve.a, ve.p, ve.a.T())
	pMinus.Add(&pMinus, ve.q)
	return &pMinus
}

func (ve *VectorEstimator) innovationInverse(pMinus *mat.Dense) (*mat.Dense, error) {
	var s mat.Dense
	s.Product(ve.h, pMinus, ve.h.T())
	s.Add(&s, ve.r)
	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return nil, err
	}
	return &sInv, nil
}

// Update runs one predict/correct cycle with the measurement vector z and returns the new
// estimate.
func (ve *VectorEstimator) Update(z []float64) (float64, error) {
	if len(z) != ve.Channels() {
		return ve.Estimate(), errors.Errorf("expected %d measurements, got %d", ve.Channels(), len(z))
	}

	var xMinus mat.VecDense
	xMinus.MulVec(ve.a, ve.x)
	pMinus := ve.predictCovariance()

	sInv, err := ve.innovationInverse(pMinus)
	if err != nil {
		return ve.Estimate(), errors.Wrap(err, "innovation covariance is singular")
	}
	var gain mat.Dense
	gain.Product(pMinus, ve.h.T(), sInv)

	var innovation mat.VecDense
	innovation.MulVec(ve.h, &xMinus)
	innovation.SubVec(mat.NewVecDense(len(z), append([]float64(nil), z...)), &innovation)

	var correction mat.VecDense
	correction.MulVec(&gain, &innovation)
	var x mat.VecDense
	x.AddVec(&xMinus, &correction)

	var kh, ikh, p mat.Dense
	kh.Mul(&gain, ve.h)
	ikh.Sub(ve.eye, &kh)
	p.Mul(&ikh, pMinus)

	// Rounding can leave P slightly asymmetric or negative on the diagonal; keep it PSD.
	var sym mat.Dense
	sym.Add(&p, p.T())
	sym.Scale(0.5, &sym)
	if sym.At(0, 0) < 0 {
		sym.Set(0, 0, 0)
	}

	ve.x = &x
	ve.p = &sym
	return ve.Estimate(), nil
}

// Estimate returns the current estimate.
func (ve *VectorEstimator) Estimate() float64 {
	return ve.x.AtVec(0)
}

// Covariance returns the current estimate variance.
func (ve *VectorEstimator) Covariance() float64 {
	return ve.p.At(0, 0)
}

// Reset forgets the estimate and restores the initial covariance.
func (ve *VectorEstimator) Reset() error {
	ve.x = mat.NewVecDense(1, nil)
	ve.p = mat.NewDense(1, 1, []float64{ve.p0})
	ve.seeded = false
	return nil
}
