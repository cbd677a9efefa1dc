package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
)

// State is the serialized position of a Stream.
type State struct {
	Seed uint64 `json:"seed"`
	PCG  []byte `json:"pcg"`
}

// Stream is a seeded PCG roller whose position survives a save/load cycle.
// It is not safe for concurrent use; each session owns one.
type Stream struct {
	seed uint64
	pcg  *rand.PCG
	rng  *rand.Rand
}

// NewStream starts a stream at seed.
func NewStream(seed uint64) *Stream {
	pcg := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Stream{seed: seed, pcg: pcg, rng: rand.New(pcg)}
}

// RestoreStream resumes a stream from a saved State.
func RestoreStream(state State) (*Stream, error) {
	s := NewStream(state.Seed)
	if len(state.PCG) == 0 {
		return s, nil
	}
	if err := s.pcg.UnmarshalBinary(state.PCG); err != nil {
		return nil, fmt.Errorf("restore rng state: %w", err)
	}
	return s, nil
}

func (s *Stream) IntN(n int) int {
	return s.rng.IntN(n)
}

func (s *Stream) Float64() float64 {
	return s.rng.Float64()
}

func (s *Stream) Seed() uint64 {
	return s.seed
}

// State captures the current position.
func (s *Stream) State() (State, error) {
	data, err := s.pcg.MarshalBinary()
	if err != nil {
		return State{}, fmt.Errorf("capture rng state: %w", err)
	}
	return State{Seed: s.seed, PCG: data}, nil
}

// Reset rewinds the stream in place to a captured State. Holders of the
// stream keep their reference.
func (s *Stream) Reset(state State) error {
	pcg := rand.NewPCG(state.Seed, state.Seed^0x9e3779b97f4a7c15)
	if len(state.PCG) > 0 {
		if err := pcg.UnmarshalBinary(state.PCG); err != nil {
			return fmt.Errorf("reset rng state: %w", err)
		}
	}
	s.seed = state.Seed
	s.pcg = pcg
	s.rng = rand.New(pcg)
	return nil
}

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Scripted replays fixed die faces and fractions, for tests and replays.
// Each IntN(n) call consumes the next face f and returns f-1 clamped to
// [0, n); an exhausted script yields face 1. Float64 consumes queued
// fractions and yields 0.5 once they run out.
type Scripted struct {
	faces  []int
	floats []float64
	fi     int
	ff     int
}

func NewScripted(faces ...int) *Scripted {
	return &Scripted{faces: faces}
}

// WithFloats queues fractions returned by Float64.
func (s *Scripted) WithFloats(values ...float64) *Scripted {
	s.floats = append(s.floats, values...)
	return s
}

func (s *Scripted) IntN(n int) int {
	if n <= 0 {
		panic("dice: invalid argument to IntN")
	}
	face := 1
	if s.fi < len(s.faces) {
		face = s.faces[s.fi]
		s.fi++
	}
	v := face - 1
	if v < 0 {
		v = 0
	}
	if v >= n {
		v = n - 1
	}
	return v
}

func (s *Scripted) Float64() float64 {
	if s.ff < len(s.floats) {
		v := s.floats[s.ff]
		s.ff++
		return v
	}
	return 0.5
}

// Remaining reports how many scripted faces have not been consumed.
func (s *Scripted) Remaining() int {
	return len(s.faces) - s.fi
}
