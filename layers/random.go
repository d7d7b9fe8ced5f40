package layers

import "math/rand"

// Global random source for deterministic initialization and dropout masks
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for weight initialization and
// stochastic layers
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

func rng() *rand.Rand {
	return globalRng
}
