package noise

import (
	"github.com/aquilax/go-perlin"
)

// Field samples a deterministic height value for a point on the XZ plane.
// Implementations must return values in [-1, 1] and be safe for concurrent use.
type Field interface {
	Sample(x, z float64) float64
}

// Func adapts a plain function to the Field interface.
type Func func(x, z float64) float64

// Sample implements Field.
func (f Func) Sample(x, z float64) float64 {
	return Clamp(f(x, z))
}

// Constant is a Field returning the same value everywhere.
type Constant float64

// Sample implements Field.
func (c Constant) Sample(x, z float64) float64 {
	return Clamp(float64(c))
}

// Config holds the perlin parameters for a Perlin field.
type Config struct {
	Seed      int64   `yaml:"seed"`
	Alpha     float64 `yaml:"alpha"`     // weight when the sum is formed
	Beta      float64 `yaml:"beta"`      // harmonic scaling/spacing
	Octaves   int     `yaml:"octaves"`   // number of iterations
	Frequency float64 `yaml:"frequency"` // world units to noise units
}

// DefaultConfig returns parameters that give rolling terrain at chunk sizes around 100.
func DefaultConfig() Config {
	return Config{
		Seed:      1337,
		Alpha:     2,
		Beta:      2,
		Octaves:   3,
		Frequency: 0.005,
	}
}

// Perlin implements Field using Perlin noise.
type Perlin struct {
	noise     *perlin.Perlin
	seed      int64
	frequency float64
}

// NewPerlin creates a Perlin field from the given configuration.
func NewPerlin(cfg Config) *Perlin {
	def := DefaultConfig()
	if cfg.Alpha <= 0 {
		cfg.Alpha = def.Alpha
	}
	if cfg.Beta <= 0 {
		cfg.Beta = def.Beta
	}
	if cfg.Octaves <= 0 {
		cfg.Octaves = 1
	}
	if cfg.Frequency == 0 {
		cfg.Frequency = 1
	}
	return &Perlin{
		noise:     perlin.NewPerlin(cfg.Alpha, cfg.Beta, int32(cfg.Octaves), cfg.Seed),
		seed:      cfg.Seed,
		frequency: cfg.Frequency,
	}
}

// Sample returns a noise value between -1 and 1 for the given coordinates.
func (p *Perlin) Sample(x, z float64) float64 {
	return Clamp(p.noise.Noise2D(x*p.frequency, z*p.frequency))
}

// Seed returns the seed the field was built with.
func (p *Perlin) Seed() int64 {
	return p.seed
}

// Clamp limits v to the documented [-1, 1] field range.
func Clamp(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
