package sprite

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"spriteforge/internal/domain"
)

func encodedFrame(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 200, G: 40, B: 40, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeFrames(t *testing.T) {
	frames, err := DecodeFrames([]string{
		encodedFrame(t, 16, 16),
		encodedFrame(t, 16, 16),
	}, 16, 16)
	if err != nil {
		t.Fatalf("DecodeFrames: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	for i, frame := range frames {
		img, err := png.Decode(bytes.NewReader(frame))
		if err != nil {
			t.Fatalf("frame %d is not valid png: %v", i, err)
		}
		if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 16 {
			t.Fatalf("frame %d is %v, want 16x16", i, img.Bounds())
		}
	}
}

func TestDecodeFramesResamplesOffSizeOutput(t *testing.T) {
	frames, err := DecodeFrames([]string{encodedFrame(t, 64, 64)}, 16, 16)
	if err != nil {
		t.Fatalf("DecodeFrames: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(frames[0]))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 16 {
		t.Fatalf("frame is %v, want resampled to 16x16", img.Bounds())
	}
}

func TestDecodeFramesEmptyPayload(t *testing.T) {
	_, err := DecodeFrames(nil, 16, 16)
	var valErr *domain.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}

func TestDecodeFramesRejectsGarbage(t *testing.T) {
	if _, err := DecodeFrames([]string{"!!not base64!!"}, 16, 16); err == nil {
		t.Fatalf("expected an error for invalid base64")
	}
	garbage := base64.StdEncoding.EncodeToString([]byte("not an image"))
	if _, err := DecodeFrames([]string{garbage}, 16, 16); err == nil {
		t.Fatalf("expected an error for a non-image payload")
	}
}
