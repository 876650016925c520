package retry

import (
	"math/rand"
	"sync"
	"time"
)

// jitterSource is a seeded random source safe for concurrent use.
type jitterSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

var defaultJitter = newJitterSource(time.Now().UnixNano())

func newJitterSource(seed int64) *jitterSource {
	return &jitterSource{r: rand.New(rand.NewSource(seed))}
}

// factor returns a value in [-1, 1).
func (j *jitterSource) factor() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.r.Float64()*2 - 1
}
