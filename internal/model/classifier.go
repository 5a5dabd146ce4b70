//go:generate go run go.uber.org/mock/mockgen -source=classifier.go -destination=../../mocks/mock_predictor.go -package=mocks
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	ort "github.com/yalue/onnxruntime_go"
)

var ErrInference = errors.New("inference failed")

var validate = validator.New()

// Predictor is the contract the conversation layer depends on.
type Predictor interface {
	Predict(t Tensor) (Score, error)
}

type Options struct {
	ModelPath     string
	MetadataPath  string
	SharedLibrary string
}

// Classifier holds one ONNX session for the whole process. Input and output
// tensors are allocated per call so concurrent Predict calls never share
// buffers.
type Classifier struct {
	session  *ort.DynamicAdvancedSession
	Metadata Metadata
	log      *slog.Logger
}

func LoadMetadata(path string) (Metadata, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultMetadata(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.InputName == "" {
		metadata.InputName = "input"
	}
	if metadata.OutputName == "" {
		metadata.OutputName = "output"
	}
	if err := validate.Struct(metadata); err != nil {
		return Metadata{}, fmt.Errorf("invalid metadata: %w", err)
	}
	size := int64(metadata.ImageSize)
	if metadata.InputShape[1] != size || metadata.InputShape[2] != size {
		return Metadata{}, fmt.Errorf("invalid metadata: image_size %d does not match input_shape %v",
			metadata.ImageSize, metadata.InputShape)
	}
	return metadata, nil
}

func NewClassifier(log *slog.Logger, opts Options) (*Classifier, error) {
	metadata, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	if opts.SharedLibrary != "" {
		ort.SetSharedLibraryPath(opts.SharedLibrary)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName}, nil)
	if err != nil {
		_ = ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	log.Info("Classifier loaded",
		"model", opts.ModelPath,
		"input_shape", metadata.InputShape,
		"output_shape", metadata.OutputShape)

	return &Classifier{
		session:  session,
		Metadata: metadata,
		log:      log,
	}, nil
}

func (c *Classifier) Predict(t Tensor) (Score, error) {
	if err := checkInput(c.Metadata, t); err != nil {
		return 0, err
	}

	input, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
	if err != nil {
		return 0, fmt.Errorf("%w: input tensor: %v", ErrInference, err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(c.Metadata.OutputShape...))
	if err != nil {
		return 0, fmt.Errorf("%w: output tensor: %v", ErrInference, err)
	}
	defer output.Destroy()

	if err := c.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInference, err)
	}

	return scoreFrom(output.GetData())
}

func (c *Classifier) Close() {
	if c.session != nil {
		_ = c.session.Destroy()
	}
	_ = ort.DestroyEnvironment()
}

func checkInput(metadata Metadata, t Tensor) error {
	if !sameShape(t.Shape, metadata.InputShape) {
		return fmt.Errorf("%w: expected shape %v, got %v", ErrInference, metadata.InputShape, t.Shape)
	}
	if int64(len(t.Data)) != t.Size() {
		return fmt.Errorf("%w: expected %d values, got %d", ErrInference, t.Size(), len(t.Data))
	}
	return nil
}

// scoreFrom reads the positive-class probability from the first output cell.
func scoreFrom(out []float32) (Score, error) {
	if len(out) == 0 {
		return 0, fmt.Errorf("%w: empty output", ErrInference)
	}
	score := Score(out[0])
	if !score.Valid() {
		return 0, fmt.Errorf("%w: score %v outside [0,1]", ErrInference, out[0])
	}
	return score, nil
}
