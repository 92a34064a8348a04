// Package ocr provides TextDetector backends.
package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/tapwise/api/schemas"
	"go.uber.org/zap"
)

var execCommandContext = exec.CommandContext

// TesseractConfig configures the tesseract CLI detector.
type TesseractConfig struct {
	Path     string
	Language string
	// PageSegMode is passed as --psm. Sparse text (11) suits app screens.
	PageSegMode int
	// MinConfidence drops lines whose mean word confidence (0..1) is lower.
	MinConfidence float64
	Timeout       time.Duration
}

func DefaultTesseractConfig() TesseractConfig {
	return TesseractConfig{
		Path:          "tesseract",
		Language:      "eng",
		PageSegMode:   11,
		MinConfidence: 0.3,
		Timeout:       30 * time.Second,
	}
}

// Tesseract runs the tesseract binary in TSV mode and groups recognized
// words into one detection per text line.
type Tesseract struct {
	cfg    TesseractConfig
	logger *zap.Logger
}

var _ schemas.TextDetector = (*Tesseract)(nil)

func NewTesseract(cfg TesseractConfig, logger *zap.Logger) *Tesseract {
	if cfg.Path == "" {
		cfg.Path = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tesseract{cfg: cfg, logger: logger.Named("ocr.tesseract")}
}

func (t *Tesseract) Detect(ctx context.Context, img image.Image) ([]schemas.TextDetection, error) {
	if img == nil {
		return nil, fmt.Errorf("no image to read")
	}
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return nil, fmt.Errorf("failed to encode image for tesseract: %w", err)
	}

	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	args := []string{"stdin", "stdout", "-l", t.cfg.Language}
	if t.cfg.PageSegMode > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PageSegMode))
	}
	args = append(args, "tsv")

	var stdout, stderr bytes.Buffer
	cmd := execCommandContext(ctx, t.cfg.Path, args...)
	cmd.Stdin = &in
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tesseract failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	dets, err := ParseTSV(stdout.Bytes(), t.cfg.MinConfidence)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("Text detection complete.",
		zap.Int("lines", len(dets)), zap.Duration("elapsed", time.Since(start)))
	return dets, nil
}

type lineKey struct{ page, block, par, line int }

type lineAcc struct {
	order          int
	words          []string
	confSum        float64
	x0, y0, x1, y1 int
}

// ParseTSV converts tesseract TSV output into line detections. Word
// confidences (0..100) are averaged per line and scaled to 0..1.
func ParseTSV(data []byte, minConfidence float64) ([]schemas.TextDetection, error) {
	lines := make(map[lineKey]*lineAcc)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	header := true
	for sc.Scan() {
		if header {
			header = false
			if strings.HasPrefix(sc.Text(), "level") {
				continue
			}
		}
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(strings.Join(cols[11:], " "))
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 || text == "" {
			continue
		}
		nums, err := atois(cols[1:10])
		if err != nil {
			return nil, fmt.Errorf("malformed tesseract row %q: %w", sc.Text(), err)
		}
		k := lineKey{page: nums[0], block: nums[1], par: nums[2], line: nums[3]}
		left, top, w, h := nums[5], nums[6], nums[7], nums[8]

		acc, ok := lines[k]
		if !ok {
			acc = &lineAcc{order: len(lines), x0: left, y0: top, x1: left + w, y1: top + h}
			lines[k] = acc
		}
		acc.words = append(acc.words, text)
		acc.confSum += conf
		acc.x0 = min(acc.x0, left)
		acc.y0 = min(acc.y0, top)
		acc.x1 = max(acc.x1, left+w)
		acc.y1 = max(acc.y1, top+h)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tesseract output: %w", err)
	}

	accs := make([]*lineAcc, 0, len(lines))
	for _, acc := range lines {
		accs = append(accs, acc)
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].order < accs[j].order })

	dets := make([]schemas.TextDetection, 0, len(accs))
	for _, acc := range accs {
		conf := acc.confSum / float64(len(acc.words)) / 100
		if conf < minConfidence {
			continue
		}
		box := schemas.BoundingBox{X: acc.x0, Y: acc.y0, Width: acc.x1 - acc.x0, Height: acc.y1 - acc.y0}
		dets = append(dets, schemas.NewTextDetection(strings.Join(acc.words, " "), conf, box))
	}
	return dets, nil
}

func atois(cols []string) ([]int, error) {
	out := make([]int, len(cols))
	for i, c := range cols {
		n, err := strconv.Atoi(strings.TrimSpace(c))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
