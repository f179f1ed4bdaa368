// fieldpreview is an interactive inspector for a running simulation:
// it renders channel 0's mass field as a false-color texture and
// exposes the growth-kernel parameters (μ, σ, h, dt) as raygui
// sliders, adapted from the teacher's potentialpreview tool — same
// slider-panel/texture-update loop, driving the Flow Lenia propagator
// instead of an FBM terrain potential.
//
// Usage: go run ./cmd/fieldpreview
package main

import (
	"fmt"
	"image/color"

	gui "github.com/gen2brain/raylib-go/raygui"
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flowlenia/config"
	"github.com/pthm-cable/flowlenia/propagator"
	"github.com/pthm-cable/flowlenia/seed"
)

const (
	windowWidth  = 1000
	windowHeight = 720
	previewSize  = 512
	panelWidth   = windowWidth - previewSize - 30
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		panic(err)
	}

	sd := seed.GaussianBlob{CenterFracX: 0.5, CenterFracY: 0.5, RadiusFrac: 0.1, Amplitude: 1, Channel: 0}
	p, err := propagator.New(cfg, sd)
	if err != nil {
		panic(err)
	}

	rl.InitWindow(windowWidth, windowHeight, "Flow Lenia Field Preview")
	defer rl.CloseWindow()
	rl.SetTargetFPS(30)

	img := rl.GenImageColor(cfg.Width, cfg.Height, rl.Black)
	texture := rl.LoadTextureFromImage(img)
	rl.UnloadImage(img)
	defer rl.UnloadTexture(texture)

	mu := float32(cfg.Kernels[0].Mu)
	sigma := float32(cfg.Kernels[0].Sigma)
	h := float32(cfg.Kernels[0].H)
	dt := float32(cfg.Dt)

	running := true
	updateTexture(texture, p.ReadState().Channels[0], cfg.Width, cfg.Height)

	for !rl.WindowShouldClose() {
		if running {
			if err := p.Step(); err != nil {
				panic(err)
			}
			updateTexture(texture, p.ReadState().Channels[0], cfg.Width, cfg.Height)
		}

		rl.BeginDrawing()
		rl.ClearBackground(rl.RayWhite)

		rl.DrawTexturePro(
			texture,
			rl.Rectangle{X: 0, Y: 0, Width: float32(cfg.Width), Height: float32(cfg.Height)},
			rl.Rectangle{X: 10, Y: 10, Width: previewSize, Height: previewSize},
			rl.Vector2{X: 0, Y: 0}, 0, rl.White,
		)
		rl.DrawRectangleLines(10, 10, previewSize, previewSize, rl.DarkGray)

		statsY := int32(previewSize + 25)
		rl.DrawText(fmt.Sprintf("Step: %d  Time: %.2f  Mass: %.4f", p.CurrentStep(), p.CurrentTime(), p.TotalMass()), 15, statsY, 16, rl.DarkGray)

		panelX := float32(previewSize + 20)
		panelY := float32(10)

		rl.DrawText("Growth Parameters", int32(panelX), int32(panelY), 20, rl.DarkGray)
		panelY += 35

		mu = labeledSlider(panelX, &panelY, "Mu (growth center)", mu, 0.0, 0.5, "0.0", "0.5")
		sigma = labeledSlider(panelX, &panelY, "Sigma (growth width)", sigma, 0.001, 0.1, "0.001", "0.1")
		h = labeledSlider(panelX, &panelY, "H (growth weight)", h, 0.0, 2.0, "0.0", "2.0")
		dt = labeledSlider(panelX, &panelY, "dt (step size)", dt, 0.01, 0.5, "0.01", "0.5")

		p.UpdateKernelGrowth(0, float64(mu), float64(sigma), float64(h))
		cfg.Dt = float64(dt)

		panelY += 10
		if gui.Button(rl.Rectangle{X: panelX, Y: panelY, Width: 90, Height: 28}, boolLabel(running, "Pause", "Run")) {
			running = !running
		}
		if gui.Button(rl.Rectangle{X: panelX + 100, Y: panelY, Width: 90, Height: 28}, "Reset") {
			if err := p.Reset(sd); err != nil {
				panic(err)
			}
		}

		rl.EndDrawing()
	}
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}

func labeledSlider(panelX float32, panelY *float32, label string, value, lo, hi float32, loLabel, hiLabel string) float32 {
	rl.DrawText(label, int32(panelX), int32(*panelY), 14, rl.Gray)
	*panelY += 18
	newValue := gui.SliderBar(
		rl.Rectangle{X: panelX, Y: *panelY, Width: float32(panelWidth - 80), Height: 20},
		loLabel, hiLabel, value, lo, hi,
	)
	rl.DrawText(fmt.Sprintf("%.3f", newValue), int32(panelX+float32(panelWidth-70)), int32(*panelY+2), 16, rl.DarkGray)
	*panelY += 35
	return newValue
}

// updateTexture renders a mass field as a false-color gradient, the
// same dark-blue -> cyan -> yellow -> white ramp potentialpreview used
// for potential fields, now driven by decoded simulation mass.
func updateTexture(texture rl.Texture2D, grid []float32, w, h int) {
	pixels := make([]color.RGBA, w*h)
	for i, raw := range grid {
		v := raw
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		var r, g, b uint8
		switch {
		case v < 0.25:
			t := v / 0.25
			r, g, b = uint8(10+t*30), uint8(20+t*60), uint8(60+t*100)
		case v < 0.5:
			t := (v - 0.25) / 0.25
			r, g, b = uint8(40+t*20), uint8(80+t*120), uint8(160+t*40)
		case v < 0.75:
			t := (v - 0.5) / 0.25
			r, g, b = uint8(60+t*140), uint8(200-t*40), uint8(200-t*150)
		default:
			t := (v - 0.75) / 0.25
			r, g, b = uint8(200+t*55), uint8(160+t*95), uint8(50+t*205)
		}
		pixels[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	rl.UpdateTexture(texture, pixels)
}
