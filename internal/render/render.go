// internal/render/render.go
// Scales downloaded media to the display size and overlays a caption
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"reddit-image-download/internal/config"
	"reddit-image-download/internal/database"
	"reddit-image-download/internal/filesys"
	"reddit-image-download/internal/logging"
)

const (
	horizBuffer      = 10
	vertBufferTop    = 5
	vertBufferBottom = 10
	timestampLayout  = "01-02   15:04"
)

var ErrDecode = errors.New("could not decode media")

var (
	resolutionTag = regexp.MustCompile(`[\[(]\s*[0-9,]+\s*[xX\x{00D7}]\s*[0-9,]+\s*[\])]`)
	ocTag         = regexp.MustCompile(`[\[(][oO][cCsS][\])]`)
	spaces        = regexp.MustCompile(` +`)

	band      = image.NewUniform(color.NRGBA{0, 0, 0, 128})
	faintText = image.NewUniform(color.NRGBA{255, 255, 255, 128})
)

// CleanTitle drops resolution and OC tags from a post title.
func CleanTitle(title string) string {
	title = resolutionTag.ReplaceAllString(title, "")
	title = ocTag.ReplaceAllString(title, "")
	return strings.TrimSpace(spaces.ReplaceAllString(title, " "))
}

// Renderer writes display-ready JPEGs into the images directory
type Renderer struct {
	dir        string
	processing config.Processing
	titleFace  font.Face
	stampFace  font.Face
	now        func() time.Time
	logger     *zap.Logger
}

// New loads the configured fonts, falling back to a built-in face when a
// font cannot be read.
func New(dir string, processing config.Processing, titleFont, stampFont config.Font, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if processing.Quality == 0 {
		processing.Quality = 100
	}
	return &Renderer{
		dir:        dir,
		processing: processing,
		titleFace:  loadFace(titleFont, logger),
		stampFace:  loadFace(stampFont, logger),
		now:        time.Now,
		logger:     logger,
	}
}

func loadFace(f config.Font, logger *zap.Logger) font.Face {
	data, err := os.ReadFile(f.Name)
	if err == nil {
		var parsed *opentype.Font
		if parsed, err = opentype.Parse(data); err == nil {
			var face font.Face
			face, err = opentype.NewFace(parsed, &opentype.FaceOptions{Size: f.Size, DPI: 72, Hinting: font.HintingFull})
			if err == nil {
				return face
			}
		}
	}
	logger.Warn("using built-in font", zap.String("font", f.Name), zap.Error(err))
	return basicfont.Face7x13
}

// Render decodes raw, scales it to fit the configured size, draws the
// caption and writes <postcode>.jpg. It returns the file name.
func (r *Renderer) Render(ctx context.Context, post database.Post, raw []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.logger.Info("editing", zap.String("postcode", post.Postcode))

	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	dst := r.scale(src)
	r.caption(dst, post)
	if r.processing.Timestamp {
		r.timestamp(dst)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: r.processing.Quality}); err != nil {
		return "", fmt.Errorf("error encoding %s: %w", post.Postcode, err)
	}

	filename := post.Postcode + ".jpg"
	if _, err := filesys.WriteAtomic(r.dir, filename, buf.Bytes()); err != nil {
		return "", err
	}
	r.logger.Debug("wrote image",
		zap.String("file", filename),
		zap.String("source_format", format),
		zap.Int("bytes", buf.Len()))
	return filename, nil
}

func (r *Renderer) scale(src image.Image) *image.RGBA {
	b := src.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	s := math.Min(float64(r.processing.Width)/w, float64(r.processing.Height)/h)
	nw := max(1, int(math.Round(w*s)))
	nh := max(1, int(math.Round(h*s)))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// captionWords returns the words of the caption: the cleaned title then the
// attribution.
func (r *Renderer) captionWords(post database.Post) []string {
	var words []string
	if r.processing.Title {
		cleaned := CleanTitle(post.Title)
		if cleaned != post.Title {
			r.logger.Info("modified text", zap.String("from", logging.ASCII(post.Title)), zap.String("to", logging.ASCII(cleaned)))
		}
		words = strings.Fields(cleaned)
	}

	subreddit := post.Subreddit
	if strings.HasSuffix(strings.ToLower(subreddit), "porn") {
		subreddit = subreddit[:len(subreddit)-4]
	}
	switch {
	case r.processing.Username && r.processing.Subreddit:
		words = append(words, fmt.Sprintf("(/u/%s - %s)", post.User, subreddit))
	case r.processing.Username:
		words = append(words, fmt.Sprintf("(/u/%s)", post.User))
	case r.processing.Subreddit:
		words = append(words, fmt.Sprintf("(%s)", subreddit))
	}
	return words
}

// wrap greedily packs words into lines no wider than maxW.
func wrap(face font.Face, words []string, maxW int) []string {
	var lines []string
	line := ""
	for _, word := range words {
		if line == "" {
			line = word
			continue
		}
		if font.MeasureString(face, line+" "+word).Ceil() > maxW {
			lines = append(lines, line)
			line = word
		} else {
			line += " " + word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

func (r *Renderer) caption(dst *image.RGBA, post database.Post) {
	words := r.captionWords(post)
	if len(words) == 0 {
		return
	}

	b := dst.Bounds()
	lines := wrap(r.titleFace, words, b.Dx()-2*horizBuffer)
	metrics := r.titleFace.Metrics()
	lineHeight := metrics.Height.Ceil()
	top := b.Dy() - vertBufferBottom - len(lines)*lineHeight

	draw.Draw(dst, image.Rect(0, top-vertBufferTop, b.Dx(), b.Dy()), band, image.Point{}, draw.Over)

	d := font.Drawer{Dst: dst, Src: image.White, Face: r.titleFace}
	for i, line := range lines {
		d.Dot = fixed.P(horizBuffer, top+i*lineHeight+metrics.Ascent.Ceil())
		d.DrawString(line)
	}
}

func (r *Renderer) timestamp(dst *image.RGBA) {
	b := dst.Bounds()
	d := font.Drawer{
		Dst:  dst,
		Src:  faintText,
		Face: r.stampFace,
		Dot:  fixed.P(2, b.Dy()-2-r.stampFace.Metrics().Descent.Ceil()),
	}
	d.DrawString(r.now().Format(timestampLayout))
}
