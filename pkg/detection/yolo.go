package detection

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"
)

// YOLODetector uses YOLOv8 for general object detection.
type YOLODetector struct {
	net       gocv.Net
	config    Config
	inputSize image.Point
	keep      map[string]bool
}

// NewYOLO loads a YOLOv8 ONNX model.
func NewYOLO(cfg Config) (*YOLODetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	var keep map[string]bool
	if len(cfg.Classes) > 0 {
		keep = make(map[string]bool, len(cfg.Classes))
		for _, c := range cfg.Classes {
			keep[c] = true
		}
	}

	return &YOLODetector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		keep:      keep,
	}, nil
}

// Detect finds objects in img.
func (d *YOLODetector) Detect(img gocv.Mat) ([]Box, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	return d.parse(output, float32(img.Cols()), float32(img.Rows()))
}

// parse decodes the [1, 84, N] output: 4 box values then 80 class scores
// per candidate, laid out column-wise.
func (d *YOLODetector) parse(output gocv.Mat, imgW, imgH float32) ([]Box, error) {
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", sizes)
	}
	attrs, rows := sizes[1], sizes[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	thresh := float32(d.config.ConfidenceThresh)
	var (
		boxes       []image.Rectangle
		confidences []float32
		classIDs    []int
	)
	for i := 0; i < rows; i++ {
		best, class := float32(0), 0
		for c := 4; c < attrs; c++ {
			if s := data[c*rows+i]; s > best {
				best, class = s, c-4
			}
		}
		if best < thresh || class >= len(COCOClasses) {
			continue
		}
		if d.keep != nil && !d.keep[COCOClasses[class]] {
			continue
		}

		cx, cy := data[i], data[rows+i]
		w, h := data[2*rows+i], data[3*rows+i]
		sx, sy := imgW/float32(d.config.InputWidth), imgH/float32(d.config.InputHeight)
		boxes = append(boxes, image.Rect(
			int((cx-w/2)*sx), int((cy-h/2)*sy),
			int((cx+w/2)*sx), int((cy+h/2)*sy),
		))
		confidences = append(confidences, best)
		classIDs = append(classIDs, class)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, thresh, float32(d.config.NMSThresh))
	out := make([]Box, 0, len(indices))
	for _, idx := range indices {
		b := boxes[idx]
		out = append(out, Box{
			X:          float64(b.Min.X) / float64(imgW),
			Y:          float64(b.Min.Y) / float64(imgH),
			W:          float64(b.Dx()) / float64(imgW),
			H:          float64(b.Dy()) / float64(imgH),
			Confidence: float64(confidences[idx]),
			Label:      COCOClasses[classIDs[idx]],
		})
	}
	return out, nil
}

// Close releases the network.
func (d *YOLODetector) Close() error {
	return d.net.Close()
}

// COCOClasses contains the 80 COCO class names.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
