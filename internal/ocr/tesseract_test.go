package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/tapwise/api/schemas"
	"go.uber.org/zap"
)

func mockExecCommandContext(t *testing.T, exitCode int, gotArgs *[]string) {
	t.Helper()
	orig := execCommandContext
	t.Cleanup(func() { execCommandContext = orig })

	execCommandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		*gotArgs = append([]string{name}, args...)
		cs := []string{"-test.run=TestHelperProcess", "--"}
		cs = append(cs, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("HELPER_EXIT_CODE=%d", exitCode))
		return cmd
	}
}

// TestHelperProcess stands in for the tesseract binary. It checks stdin
// is a PNG and replays testdata/words.tsv.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	if os.Getenv("HELPER_EXIT_CODE") != "0" {
		fmt.Fprint(os.Stderr, "Error opening data file eng.traineddata")
		os.Exit(1)
	}
	in, err := io.ReadAll(os.Stdin)
	if err != nil {
		os.Exit(3)
	}
	if _, err := png.Decode(bytes.NewReader(in)); err != nil {
		fmt.Fprint(os.Stderr, "stdin is not a png")
		os.Exit(4)
	}
	out, err := os.ReadFile("testdata/words.tsv")
	if err != nil {
		os.Exit(5)
	}
	os.Stdout.Write(out)
	os.Exit(0)
}

func TestParseTSV_GroupsWordsIntoLines(t *testing.T) {
	data, err := os.ReadFile("testdata/words.tsv")
	require.NoError(t, err)

	dets, err := ParseTSV(data, 0.3)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, "Search", dets[0].Text)
	assert.InDelta(t, 0.935, dets[0].Confidence, 1e-9)
	assert.Equal(t, schemas.BoundingBox{X: 60, Y: 96, Width: 200, Height: 50}, dets[0].Box)

	assert.Equal(t, "Johnny Appleseed", dets[1].Text)
	assert.InDelta(t, 0.85, dets[1].Confidence, 1e-9)
	assert.Equal(t, schemas.BoundingBox{X: 200, Y: 420, Width: 420, Height: 48}, dets[1].Box)
	assert.Equal(t, schemas.Point{X: 410, Y: 444}, dets[1].Center)
}

func TestParseTSV_MinConfidence(t *testing.T) {
	data, err := os.ReadFile("testdata/words.tsv")
	require.NoError(t, err)

	dets, err := ParseTSV(data, 0)
	require.NoError(t, err)
	require.Len(t, dets, 3)
	assert.Equal(t, "~~", dets[2].Text)

	dets, err = ParseTSV(data, 0.9)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "Search", dets[0].Text)
}

func TestParseTSV_Edges(t *testing.T) {
	dets, err := ParseTSV(nil, 0.3)
	require.NoError(t, err)
	assert.Empty(t, dets)

	_, err = ParseTSV([]byte("5\t1\tx\t1\t1\t1\t0\t0\t10\t10\t90\tword\n"), 0)
	assert.Error(t, err)
}

func TestTesseract_Detect(t *testing.T) {
	var args []string
	mockExecCommandContext(t, 0, &args)
	cfg := DefaultTesseractConfig()
	cfg.Path = "/usr/bin/tesseract"
	det := NewTesseract(cfg, zap.NewNop())

	dets, err := det.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 20, 40)))
	require.NoError(t, err)
	assert.Len(t, dets, 2)
	assert.Equal(t, []string{"/usr/bin/tesseract", "stdin", "stdout", "-l", "eng", "--psm", "11", "tsv"}, args)
}

func TestTesseract_DetectFailure(t *testing.T) {
	var args []string
	mockExecCommandContext(t, 1, &args)
	det := NewTesseract(TesseractConfig{}, nil)

	_, err := det.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eng.traineddata")
	assert.Equal(t, []string{"tesseract", "stdin", "stdout", "-l", "eng", "tsv"}, args)

	_, err = det.Detect(context.Background(), nil)
	assert.Error(t, err)
}
