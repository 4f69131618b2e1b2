package images

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/gitsmash/mapid/internal/domain/enums"
)

const (
	StepValidateExtension = "validate_extension"
	StepValidateSize      = "validate_size"
	StepDecode            = "decode"
	StepEncode            = "encode"
)

// variantBounds is the max edge length per derived variant. Images smaller
// than the bound are never upscaled.
var variantBounds = map[enums.Variant]int{
	enums.VariantThumbnail: 150,
	enums.VariantMedium:    500,
	enums.VariantFull:      1200,
}

var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

// ProcessError identifies which pipeline step rejected the file.
type ProcessError struct {
	Step string
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("image processing failed at %s: %v", e.Step, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Derived is one encoded output variant.
type Derived struct {
	Data        []byte
	Ext         string
	ContentType string
}

type Config struct {
	MaxFileBytes int64
	Quality      float32
}

type Processor struct {
	cfg    Config
	logger *zap.Logger
}

func NewProcessor(cfg Config, logger *zap.Logger) *Processor {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 10 << 20
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 85
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{cfg: cfg, logger: logger}
}

// Derive validates the upload and produces the full variant set. The set is
// all-or-nothing: any step failure returns a *ProcessError and no variants.
// Every variant, the original included, is re-encoded from the decoded frame
// so no embedded location or device metadata survives. The original keeps the
// upload's native encoding and full size.
func (p *Processor) Derive(data []byte, filename string) (map[enums.Variant]Derived, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[ext]; !ok {
		return nil, &ProcessError{Step: StepValidateExtension, Err: fmt.Errorf("unsupported extension %q", ext)}
	}

	if len(data) == 0 {
		return nil, &ProcessError{Step: StepValidateSize, Err: fmt.Errorf("empty file")}
	}
	if int64(len(data)) > p.cfg.MaxFileBytes {
		return nil, &ProcessError{Step: StepValidateSize,
			Err: fmt.Errorf("file size %d exceeds limit %d", len(data), p.cfg.MaxFileBytes)}
	}

	src, err := decodeImage(data, ext)
	if err != nil {
		return nil, &ProcessError{Step: StepDecode, Err: err}
	}

	flattened := flattenOnWhite(src)

	out := make(map[enums.Variant]Derived, len(variantBounds)+1)
	original, err := p.encodeNative(flattened, ext)
	if err != nil {
		return nil, &ProcessError{Step: StepEncode,
			Err: fmt.Errorf("variant %s: %w", enums.VariantOriginal, err)}
	}
	out[enums.VariantOriginal] = original

	for variant, bound := range variantBounds {
		resized := imaging.Fit(flattened, bound, bound, imaging.Lanczos)
		encoded, outExt, contentType, err := p.encode(resized)
		if err != nil {
			return nil, &ProcessError{Step: StepEncode,
				Err: fmt.Errorf("variant %s: %w", variant, err)}
		}
		out[variant] = Derived{Data: encoded, Ext: outExt, ContentType: contentType}
	}

	return out, nil
}

// encode prefers webp and falls back to jpeg when the webp encoder rejects
// the frame.
func (p *Processor) encode(img image.Image) ([]byte, string, string, error) {
	buf := new(bytes.Buffer)
	err := webp.Encode(buf, img, &webp.Options{Quality: p.cfg.Quality})
	if err == nil {
		return buf.Bytes(), "webp", "image/webp", nil
	}
	p.logger.Debug("webp encode failed, falling back to jpeg", zap.Error(err))

	buf.Reset()
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(int(p.cfg.Quality))); err != nil {
		return nil, "", "", fmt.Errorf("jpeg fallback: %w", err)
	}
	return buf.Bytes(), "jpg", "image/jpeg", nil
}

// encodeNative re-encodes the frame in the upload's own format, dropping
// whatever metadata segments the upload carried.
func (p *Processor) encodeNative(img image.Image, ext string) (Derived, error) {
	buf := new(bytes.Buffer)
	switch ext {
	case ".png":
		if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
			return Derived{}, fmt.Errorf("png: %w", err)
		}
		return Derived{Data: buf.Bytes(), Ext: "png", ContentType: "image/png"}, nil
	case ".gif":
		if err := imaging.Encode(buf, img, imaging.GIF); err != nil {
			return Derived{}, fmt.Errorf("gif: %w", err)
		}
		return Derived{Data: buf.Bytes(), Ext: "gif", ContentType: "image/gif"}, nil
	case ".webp":
		if err := webp.Encode(buf, img, &webp.Options{Quality: p.cfg.Quality}); err == nil {
			return Derived{Data: buf.Bytes(), Ext: "webp", ContentType: "image/webp"}, nil
		}
		buf.Reset()
		fallthrough
	default:
		if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(int(p.cfg.Quality))); err != nil {
			return Derived{}, fmt.Errorf("jpeg: %w", err)
		}
		return Derived{Data: buf.Bytes(), Ext: "jpg", ContentType: "image/jpeg"}, nil
	}
}

// decodeImage sniffs the content and decodes with EXIF orientation applied.
// The webp path goes through chai2010 because imaging has no webp support.
func decodeImage(data []byte, ext string) (image.Image, error) {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)

	if strings.Contains(ct, "webp") || ext == ".webp" {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode webp: %w", err)
		}
		return img, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}

// flattenOnWhite composites the frame onto an opaque white background so
// transparent PNG and GIF uploads encode cleanly to 3-channel formats.
func flattenOnWhite(src image.Image) image.Image {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	return dst
}
