package detect

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Registered decoders for the formats browsers and webcams emit.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrUndecodableFrame = errors.New("frame is not a decodable image")

// DecodeFrame decodes an uploaded frame and reports its format name.
func DecodeFrame(b []byte) (image.Image, string, error) {
	if len(b) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrUndecodableFrame)
	}
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodableFrame, err)
	}
	return img, format, nil
}
