package sprite

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/disintegration/imaging"

	"spriteforge/internal/domain"
)

// DecodeFrames turns the provider's base64 frame payloads into PNG frame
// buffers at the requested dimensions. Providers occasionally return
// off-size output; those frames are resampled rather than rejected.
func DecodeFrames(encoded []string, width, height int) ([][]byte, error) {
	if len(encoded) == 0 {
		return nil, &domain.ValidationError{Field: "frames", Reason: "no frame data in provider payload"}
	}

	frames := make([][]byte, 0, len(encoded))
	for i, b64 := range encoded {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", i, err)
		}
		img, err := imaging.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode frame %d image: %w", i, err)
		}
		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			img = imaging.Resize(img, width, height, imaging.NearestNeighbor)
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", i, err)
		}
		frames = append(frames, buf.Bytes())
	}
	return frames, nil
}
