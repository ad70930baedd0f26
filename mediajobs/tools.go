package mediajobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// The image work itself is delegated to external tools (ImageMagick,
// exiftool, a face-detection CLI); this file only owns their invocation.
// Every command runs under the job's context, so a hung tool is bounded by
// the runner's per-job timeout.

// CommandResizer shells out to an ImageMagick-compatible binary.
type CommandResizer struct {
	// Binary defaults to "magick".
	Binary string
	// Quality is the JPEG quality for derivatives, defaulting to 85.
	Quality int
}

func (c *CommandResizer) Resize(ctx context.Context, src, dst string, maxEdge int) error {
	bin := c.Binary
	if bin == "" {
		bin = "magick"
	}
	quality := c.Quality
	if quality <= 0 {
		quality = 85
	}
	geometry := fmt.Sprintf("%dx%d>", maxEdge, maxEdge)
	cmd := exec.CommandContext(ctx, bin, src, "-auto-orient", "-resize", geometry,
		"-quality", strconv.Itoa(quality), dst)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w (%s)", bin, err, stderr.String())
	}
	return nil
}

// CommandExifReader shells out to exiftool and flattens its JSON output into
// string tags.
type CommandExifReader struct {
	// Binary defaults to "exiftool".
	Binary string
}

func (c *CommandExifReader) Read(ctx context.Context, path string) (map[string]string, error) {
	bin := c.Binary
	if bin == "" {
		bin = "exiftool"
	}
	cmd := exec.CommandContext(ctx, bin, "-json", "-n", path)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", bin, err)
	}

	var records []map[string]any
	if err := json.Unmarshal(out, &records); err != nil {
		return nil, fmt.Errorf("cannot parse %s output: %w", bin, err)
	}
	if len(records) == 0 {
		return map[string]string{}, nil
	}

	tags := make(map[string]string, len(records[0]))
	for k, v := range records[0] {
		switch val := v.(type) {
		case string:
			tags[k] = val
		case float64:
			tags[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			tags[k] = strconv.FormatBool(val)
		}
	}
	return tags, nil
}

// CommandFaceDetector invokes a face-detection CLI expected to print a JSON
// array of regions ({x, y, width, height, score}) on stdout.
type CommandFaceDetector struct {
	Binary string
	Args   []string
}

func (c *CommandFaceDetector) Detect(ctx context.Context, path string) ([]FaceRegion, error) {
	if c.Binary == "" {
		return nil, fmt.Errorf("no face detection binary configured")
	}
	args := append(append([]string{}, c.Args...), path)
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", c.Binary, err)
	}

	var faces []FaceRegion
	if err := json.Unmarshal(out, &faces); err != nil {
		return nil, fmt.Errorf("cannot parse %s output: %w", c.Binary, err)
	}
	return faces, nil
}
