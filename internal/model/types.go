package model

import (
	"fmt"
	"math"
)

// Threshold is the decision boundary between the two labels. A score equal to
// the threshold is a positive.
const Threshold Score = 0.70

type Metadata struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape" validate:"len=4,dive,gt=0"`
	OutputShape []int64 `json:"output_shape" validate:"min=1,dive,gt=0"`
	ImageSize   int     `json:"image_size" validate:"gt=0"`
}

// DefaultMetadata describes the fracture classifier: one 512x512 grayscale
// image in, one sigmoid score out.
func DefaultMetadata() Metadata {
	return Metadata{
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, 512, 512, 1},
		OutputShape: []int64{1, 1},
		ImageSize:   512,
	}
}

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

func (t Tensor) Size() int64 {
	return ShapeSize(t.Shape)
}

func ShapeSize(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Score is the positive-class confidence in [0, 1].
type Score float32

func (s Score) Valid() bool {
	f := float64(s)
	return !math.IsNaN(f) && f >= 0 && f <= 1
}

type Label int

const (
	FractureAbsent Label = iota
	FracturePresent
)

func (s Score) Label() Label {
	if s >= Threshold {
		return FracturePresent
	}
	return FractureAbsent
}

func (l Label) String() string {
	switch l {
	case FracturePresent:
		return "fracture present"
	case FractureAbsent:
		return "fracture absent"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}
