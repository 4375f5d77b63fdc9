package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"log"
	"math"
	"os"

	"github.com/marco-hrlic/go-localize/sim"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

var (
	// configPath is path to simulation config
	configPath string
	// particles overrides the number of filter particles
	particles int
	// gifPath is path to the output GIF; empty disables it
	gifPath string
	// scale is the number of pixels per meter
	scale float64
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to JSON simulation config")
	flag.IntVar(&particles, "particles", 0, "Number of filter particles")
	flag.StringVar(&gifPath, "gif", "", "Output GIF file")
	flag.Float64Var(&scale, "scale", 15.0, "Pixels per meter")
}

// view maps world coordinates to image pixels
type view struct {
	origin image.Point
	scale  float64
}

func (v view) Pt(x, y float64) image.Point {
	return image.Pt(
		v.origin.X+int(math.Round(x*v.scale)),
		v.origin.Y-int(math.Round(y*v.scale)),
	)
}

// drawLandmarks draws every landmark as a cross of half size d
func drawLandmarks(img *gocv.Mat, v view, lms sim.Landmarks, c color.RGBA, d int) {
	for _, lm := range lms {
		center := v.Pt(lm.X, lm.Y)
		gocv.Line(img, image.Pt(center.X-d, center.Y-d), image.Pt(center.X+d, center.Y+d), c, 2)
		gocv.Line(img, image.Pt(center.X+d, center.Y-d), image.Pt(center.X-d, center.Y+d), c, 2)
	}
}

// drawParticles draws filter particles stored as column vectors
func drawParticles(img *gocv.Mat, v view, p mat.Matrix, c color.RGBA) {
	_, n := p.Dims()
	for j := 0; j < n; j++ {
		gocv.Circle(img, v.Pt(p.At(0, j), p.At(1, j)), 1, c, 1)
	}
}

// appendFrame quantizes img to the Plan 9 palette and appends it to out
func appendFrame(out *gif.GIF, img *gocv.Mat, delay int) error {
	goImg, err := img.ToImage()
	if err != nil {
		return err
	}

	frame := image.NewPaletted(goImg.Bounds(), palette.Plan9)
	draw.FloydSteinberg.Draw(frame, frame.Rect, goImg, goImg.Bounds().Min)

	out.Image = append(out.Image, frame)
	out.Delay = append(out.Delay, delay)

	return nil
}

func main() {
	flag.Parse()

	cfg := sim.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = sim.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if particles > 0 {
		cfg.Particles = &particles
	}

	s, err := sim.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create simulation: %v", err)
	}

	width, height := 600, 600
	v := view{origin: image.Pt(width/2, height*3/4), scale: scale}

	img := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	defer img.Close()
	window := gocv.NewWindow("Particle Filter Localization")
	defer window.Close()

	outGif := &gif.GIF{}
	var truthPath, estPath []image.Point

	for i := 0; i < cfg.GetSteps(); i++ {
		step, err := s.Step()
		if err != nil {
			log.Fatalf("Simulation step failed: %v", err)
		}

		truthPath = append(truthPath, v.Pt(step.Truth[0], step.Truth[1]))
		estPath = append(estPath, v.Pt(step.Estimate[0], step.Estimate[1]))

		// reset all pixels to white background
		img.SetTo(gocv.Scalar{Val1: 255, Val2: 255, Val3: 255, Val4: 255})

		drawLandmarks(&img, v, s.Landmarks(), color.RGBA{0, 160, 0, 0}, 5)
		// draw particles in grey-ish color
		drawParticles(&img, v, s.Filter().Particles(), color.RGBA{169, 169, 169, 0})

		for j := 1; j < len(truthPath); j++ {
			gocv.Line(&img, truthPath[j-1], truthPath[j], color.RGBA{255, 0, 0, 0}, 1)
			gocv.Line(&img, estPath[j-1], estPath[j], color.RGBA{0, 0, 255, 0}, 1)
		}

		window.IMShow(img)
		if window.WaitKey(10) == 27 {
			fmt.Printf("Shutting down: ESC pressed\n")
			break
		}

		if gifPath != "" && i%5 == 0 {
			if err := appendFrame(outGif, &img, 10); err != nil {
				log.Fatalf("Failed to create GIF image: %v", err)
			}
		}
	}

	if gifPath == "" {
		return
	}

	fGIF, err := os.Create(gifPath)
	if err != nil {
		log.Fatal(err)
	}
	defer fGIF.Close()

	if err = gif.EncodeAll(fGIF, outGif); err != nil {
		log.Fatal(err)
	}
}
