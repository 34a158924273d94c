package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	metadataClassesKey   = "classes"
	metadataImageSizeKey = "image_size"
)

// ONNXLoader loads classifier artifacts with onnxruntime.
type ONNXLoader struct {
	log         *slog.Logger
	libraryPath string

	initOnce sync.Once
	initErr  error
}

func NewONNXLoader(log *slog.Logger, libraryPath string) *ONNXLoader {
	return &ONNXLoader{log: log, libraryPath: libraryPath}
}

func (l *ONNXLoader) init() error {
	l.initOnce.Do(func() {
		if l.libraryPath != "" {
			ort.SetSharedLibraryPath(l.libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			l.initErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return l.initErr
}

// Load opens the model at path and prepares tensors sized from its metadata.
func (l *ONNXLoader) Load(path string) (Classifier, error) {
	if err := l.init(); err != nil {
		return nil, err
	}

	meta, err := readMetadata(path)
	if err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("expected one input and at least one output, got %d and %d", len(inputs), len(outputs))
	}

	meta, err = resolveMetadata(meta,
		tensorInfo{Name: inputs[0].Name, Shape: inputs[0].Dimensions},
		tensorInfo{Name: outputs[0].Name, Shape: outputs[0].Dimensions})
	if err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	l.log.Info("Model loaded",
		"path", path,
		"classes", len(meta.Classes),
		"input_shape", meta.InputShape,
		"output_shape", meta.OutputShape)

	return &onnxClassifier{
		session:      session,
		meta:         meta,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Close tears down the onnxruntime environment.
func (l *ONNXLoader) Close() {
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			l.log.Warn("Failed to destroy ONNX environment", "error", err)
		}
	}
}

type onnxClassifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	meta         Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func (c *onnxClassifier) Labels() []string {
	return append([]string(nil), c.meta.Classes...)
}

func (c *onnxClassifier) Scores(img image.Image) ([]float32, error) {
	input, err := tensorFromImage(img, c.meta.ImageSize, c.meta.Mean, c.meta.Std)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	// Tensors are bound to the session, so runs are serialized.
	c.mu.Lock()
	defer c.mu.Unlock()

	copy(c.inputTensor.GetData(), input)
	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := c.outputTensor.GetData()
	if len(out) < len(c.meta.Classes) {
		return nil, fmt.Errorf("model produced %d values for %d classes", len(out), len(c.meta.Classes))
	}
	return append([]float32(nil), out[:len(c.meta.Classes)]...), nil
}

func (c *onnxClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
		c.inputTensor = nil
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
		c.outputTensor = nil
	}
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
}

// readMetadata prefers a "<model>.json" sidecar and falls back to the
// custom metadata map stored inside the ONNX file.
func readMetadata(path string) (Metadata, error) {
	var meta Metadata

	raw, err := os.ReadFile(path + ".json")
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &meta); err != nil {
			return meta, fmt.Errorf("failed to parse metadata: %w", err)
		}
		return meta, nil
	case !errors.Is(err, fs.ErrNotExist):
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}

	md, err := ort.GetModelMetadata(path)
	if err != nil {
		return meta, fmt.Errorf("failed to read model metadata: %w", err)
	}
	defer md.Destroy()

	classes, ok, err := md.LookupCustomMetadataMap(metadataClassesKey)
	if err != nil {
		return meta, fmt.Errorf("lookup %q: %w", metadataClassesKey, err)
	}
	if ok {
		meta.Classes, err = parseClasses(classes)
		if err != nil {
			return meta, err
		}
	}

	size, ok, err := md.LookupCustomMetadataMap(metadataImageSizeKey)
	if err != nil {
		return meta, fmt.Errorf("lookup %q: %w", metadataImageSizeKey, err)
	}
	if ok {
		meta.ImageSize, err = strconv.Atoi(strings.TrimSpace(size))
		if err != nil {
			return meta, fmt.Errorf("invalid %s %q: %w", metadataImageSizeKey, size, err)
		}
	}
	return meta, nil
}

// parseClasses accepts a JSON array or a comma separated list.
func parseClasses(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		var classes []string
		if err := json.Unmarshal([]byte(raw), &classes); err != nil {
			return nil, fmt.Errorf("failed to parse classes: %w", err)
		}
		return classes, nil
	}
	var classes []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			classes = append(classes, c)
		}
	}
	return classes, nil
}

type tensorInfo struct {
	Name  string
	Shape []int64
}

// resolveMetadata fills tensor names and concrete shapes, replacing dynamic
// dimensions with a batch of one, the image size and the class count.
func resolveMetadata(meta Metadata, in, out tensorInfo) (Metadata, error) {
	if len(meta.Classes) == 0 {
		return meta, errors.New("model metadata has no classes")
	}
	if meta.InputName == "" {
		meta.InputName = in.Name
	}
	if meta.OutputName == "" {
		meta.OutputName = out.Name
	}
	if len(meta.InputShape) == 0 {
		meta.InputShape = append([]int64(nil), in.Shape...)
	}
	if len(meta.OutputShape) == 0 {
		meta.OutputShape = append([]int64(nil), out.Shape...)
	}

	if len(meta.InputShape) != 4 {
		return meta, fmt.Errorf("expected NCHW input, got shape %v", meta.InputShape)
	}
	if meta.InputShape[1] > 0 && meta.InputShape[1] != 3 {
		return meta, fmt.Errorf("expected 3 input channels, got %d", meta.InputShape[1])
	}
	if meta.ImageSize <= 0 {
		meta.ImageSize = int(meta.InputShape[3])
	}
	if meta.ImageSize <= 0 {
		return meta, errors.New("image size is unknown and the input shape is dynamic")
	}

	meta.InputShape = []int64{1, 3, int64(meta.ImageSize), int64(meta.ImageSize)}

	for i, d := range meta.OutputShape {
		if d > 0 {
			continue
		}
		if i == len(meta.OutputShape)-1 {
			meta.OutputShape[i] = int64(len(meta.Classes))
		} else {
			meta.OutputShape[i] = 1
		}
	}
	size := int64(1)
	for _, d := range meta.OutputShape {
		size *= d
	}
	if size != int64(len(meta.Classes)) {
		return meta, fmt.Errorf("output shape %v does not match %d classes", meta.OutputShape, len(meta.Classes))
	}

	return meta, nil
}
