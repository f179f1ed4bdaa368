// Package gpu mirrors the CPU propagator pipeline as a sequence of
// fragment-shader dispatches over render-texture-backed device
// buffers, grounded in the teacher's shader-based flow field
// generator (renderer/flowfield_gpu.go) and its standalone shader
// harness (cmd/shaderdebug/main.go): load a shader, bind uniforms and
// source textures, draw a full-screen quad into a render target, read
// the result back when the caller asks for a state snapshot.
//
// Every pipeline stage is direct (non-FFT) convolution and gather-style
// advection per spec.md §4.9, since transform-domain convolution on a
// fragment-shader pipeline with no general-purpose compute dispatch is
// impractical; the direct form is accurate enough at the grid sizes
// this backend targets.
package gpu

import (
	_ "embed"
	"fmt"
	"image/color"
	"math"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flowlenia/config"
	"github.com/pthm-cable/flowlenia/kernel"
	"github.com/pthm-cable/flowlenia/propagator"
	"github.com/pthm-cable/flowlenia/seed"
)

//go:embed shaders/convolve_growth.fs
var convolveGrowthSrc string

//go:embed shaders/channel_sum.fs
var channelSumSrc string

//go:embed shaders/sobel.fs
var sobelSrc string

//go:embed shaders/flow.fs
var flowSrc string

//go:embed shaders/advect.fs
var advectSrc string

// Workgroup documents the conceptual 16x16 invocation tiling spec.md
// §4.9 names; this fragment-shader backend dispatches one invocation
// per output pixel implicitly and has no explicit workgroup API to
// configure, so the constant is informational only.
const Workgroup = 16

// BackendUnavailable reports that no GPU device capable of running
// this pipeline is present, or that the requested configuration has
// no GPU shader variant (embedded-parameter mixing, see New). Callers
// may fall back to the CPU propagator.
type BackendUnavailable struct{ Err error }

func (e *BackendUnavailable) Error() string { return fmt.Sprintf("gpu: backend unavailable: %v", e.Err) }
func (e *BackendUnavailable) Unwrap() error { return e.Err }

// DeviceLostError reports the GPU device was lost or the render
// context became unusable mid-run. The Backend enters a terminal
// failed state; every subsequent Step fails fast. Recovery requires
// constructing a new Backend.
type DeviceLostError struct{ Err error }

func (e *DeviceLostError) Error() string { return fmt.Sprintf("gpu: device lost: %v", e.Err) }
func (e *DeviceLostError) Unwrap() error { return e.Err }

type kernelRuntime struct {
	spec       config.KernelConfig
	scaledR    float32
	invNorm    float32
	ringAmp    [4]float32
	ringDist   [4]float32
	ringWidth  [4]float32
	ringCount  int32
}

// Backend is the GPU propagator. It owns the raylib window/context,
// every shader, and every render-texture-backed field buffer for the
// simulation's lifetime.
type Backend struct {
	cfg  *config.SimulationConfig
	step uint64
	lost bool

	shaderConvolveGrowth rl.Shader
	shaderChannelSum     rl.Shader
	shaderSobel          rl.Shader
	shaderFlow           rl.Shader
	shaderAdvect         rl.Shader

	kernels []kernelRuntime

	channelRead  []rl.RenderTexture2D
	channelWrite []rl.RenderTexture2D
	affinityTex  []rl.RenderTexture2D
	gradUTex     []rl.RenderTexture2D
	flowTex      []rl.RenderTexture2D
	channelSumTex rl.RenderTexture2D
	gradSumTex    rl.RenderTexture2D

	locs map[string]int32

	massScale     float32
	affinityScale float32
	sumScale      float32
	gradScale     float32
	flowScale     float32
}

// New constructs a GPU backend for an already-validated config and
// initial seed. Embedded-parameter mixing has no GPU shader variant in
// this build (§4.9 names it as a separate shader family this
// implementation does not carry; see DESIGN.md) — requesting GPU with
// embedding enabled returns BackendUnavailable so the caller can fall
// back to the CPU propagator, matching config.GPU.FallbackToCPU's
// intent.
func New(cfg *config.SimulationConfig, sd seed.Seed) (*Backend, error) {
	if cfg.Embedding.Enabled {
		return nil, &BackendUnavailable{Err: fmt.Errorf("embedded-parameter mixing has no GPU shader variant")}
	}

	rl.SetConfigFlags(rl.FlagWindowHidden)
	rl.InitWindow(int32(cfg.Width), int32(cfg.Height), "flowlenia-gpu")
	if !rl.IsWindowReady() {
		return nil, &BackendUnavailable{Err: fmt.Errorf("raylib window/context could not be created")}
	}

	b := &Backend{
		cfg:  cfg,
		locs: make(map[string]int32),

		massScale:     4.0,
		affinityScale: 4.0,
		sumScale:      8.0,
		gradScale:     2.0,
		flowScale:     4.0,
	}

	b.shaderConvolveGrowth = rl.LoadShaderFromMemory("", convolveGrowthSrc)
	b.shaderChannelSum = rl.LoadShaderFromMemory("", channelSumSrc)
	b.shaderSobel = rl.LoadShaderFromMemory("", sobelSrc)
	b.shaderFlow = rl.LoadShaderFromMemory("", flowSrc)
	b.shaderAdvect = rl.LoadShaderFromMemory("", advectSrc)
	if b.shaderConvolveGrowth.ID == 0 || b.shaderChannelSum.ID == 0 || b.shaderSobel.ID == 0 ||
		b.shaderFlow.ID == 0 || b.shaderAdvect.ID == 0 {
		rl.CloseWindow()
		return nil, &BackendUnavailable{Err: fmt.Errorf("one or more pipeline shaders failed to compile")}
	}

	w, h, c := cfg.Width, cfg.Height, cfg.Channels
	b.channelRead = make([]rl.RenderTexture2D, c)
	b.channelWrite = make([]rl.RenderTexture2D, c)
	b.affinityTex = make([]rl.RenderTexture2D, c)
	b.gradUTex = make([]rl.RenderTexture2D, c)
	b.flowTex = make([]rl.RenderTexture2D, c)
	for i := 0; i < c; i++ {
		b.channelRead[i] = rl.LoadRenderTexture(int32(w), int32(h))
		b.channelWrite[i] = rl.LoadRenderTexture(int32(w), int32(h))
		b.affinityTex[i] = rl.LoadRenderTexture(int32(w), int32(h))
		b.gradUTex[i] = rl.LoadRenderTexture(int32(w), int32(h))
		b.flowTex[i] = rl.LoadRenderTexture(int32(w), int32(h))
	}
	b.channelSumTex = rl.LoadRenderTexture(int32(w), int32(h))
	b.gradSumTex = rl.LoadRenderTexture(int32(w), int32(h))

	for _, kc := range cfg.Kernels {
		kr := kernelRuntime{spec: kc, scaledR: float32(float64(cfg.KernelRadius) * kc.R)}
		kr.ringCount = int32(len(kc.Rings))
		if kr.ringCount > 4 {
			kr.ringCount = 4
		}
		for i := 0; i < int(kr.ringCount); i++ {
			kr.ringAmp[i] = float32(kc.Rings[i].Amplitude)
			kr.ringDist[i] = float32(kc.Rings[i].Distance)
			kr.ringWidth[i] = float32(kc.Rings[i].Width)
		}
		kr.invNorm = float32(1.0 / discreteKernelSum(kc, cfg.KernelRadius))
		b.kernels = append(b.kernels, kr)
	}

	if err := b.applySeed(sd); err != nil {
		rl.CloseWindow()
		return nil, err
	}
	return b, nil
}

// discreteKernelSum recomputes the same ring-Gaussian discrete sum
// kernel.Synthesize divides out when it normalizes the CPU's FFT
// kernel, so the GPU shader's direct convolution lands on the same
// growth-input scale as the CPU backend.
func discreteKernelSum(kc config.KernelConfig, r int) float64 {
	rings := make([]kernel.Ring, len(kc.Rings))
	for i, rc := range kc.Rings {
		rings[i] = kernel.Ring{Amplitude: rc.Amplitude, Distance: rc.Distance, Width: rc.Width}
	}
	scaledR := float64(r) * kc.R

	var sum float64
	for i := -r; i <= r; i++ {
		for j := -r; j <= r; j++ {
			d := float64(i*i + j*j)
			du := math.Sqrt(d) / scaledR
			if du > 1 {
				continue
			}
			for _, ring := range rings {
				delta := du - ring.Distance
				sum += ring.Amplitude * math.Exp(-(delta*delta)/(2*ring.Width*ring.Width))
			}
		}
	}
	if sum == 0 {
		return 1
	}
	return sum
}

func (b *Backend) applySeed(sd seed.Seed) error {
	w, h, c := b.cfg.Width, b.cfg.Height, b.cfg.Channels
	channels := make([][]float32, c)
	for i := range channels {
		channels[i] = make([]float32, w*h)
	}
	sd.Apply(channels, w, h)

	for i, data := range channels {
		uploadMass(b.channelRead[i].Texture, data, w, h, b.massScale)
	}
	b.step = 0
	return nil
}

// uploadMass encodes a host-side mass field into an RGBA8 texture
// using this package's unsigned fixed-point convention and uploads it,
// the GPU-side counterpart of seed.Seed.Apply writing directly into a
// field.Grid on the CPU backend.
func uploadMass(tex rl.Texture2D, data []float32, w, h int, scale float32) {
	pixels := make([]color.RGBA, w*h)
	for i, v := range data {
		code := uint16(clamp01(v/scale) * 65535.0)
		pixels[i] = color.RGBA{R: uint8(code / 256), G: uint8(code % 256), B: 0, A: 255}
	}
	rl.UpdateTexture(tex, pixels)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (b *Backend) loc(shader rl.Shader, name string) int32 {
	key := fmt.Sprintf("%d:%s", shader.ID, name)
	if v, ok := b.locs[key]; ok {
		return v
	}
	v := rl.GetShaderLocation(shader, name)
	b.locs[key] = v
	return v
}

func (b *Backend) set1f(shader rl.Shader, name string, v float32) {
	rl.SetShaderValue(shader, b.loc(shader, name), []float32{v}, rl.ShaderUniformFloat)
}

// set1i sets an int uniform. SetShaderValue takes a float32 slice and
// hands its raw bytes to the driver, so the int's bit pattern is
// carried through the float32 unchanged rather than converted.
func (b *Backend) set1i(shader rl.Shader, name string, v int32) {
	rl.SetShaderValue(shader, b.loc(shader, name), []float32{math.Float32frombits(uint32(v))}, rl.ShaderUniformInt)
}

func (b *Backend) set2f(shader rl.Shader, name string, x, y float32) {
	rl.SetShaderValue(shader, b.loc(shader, name), []float32{x, y}, rl.ShaderUniformVec2)
}

func (b *Backend) setArray(shader rl.Shader, name string, values [4]float32, count int32) {
	rl.SetShaderValueV(shader, b.loc(shader, name), values[:], rl.ShaderUniformFloat, 4)
}

func clearTexture(rt rl.RenderTexture2D) {
	rl.BeginTextureMode(rt)
	rl.ClearBackground(rl.Black)
	rl.EndTextureMode()
}

func drawFullscreen(w, h int32) {
	rl.DrawRectangle(0, 0, w, h, rl.White)
}

// Step advances the simulation by one dt using the same seven-stage
// pipeline as propagator.Step, realized as five shader passes (the
// convolve+growth stage runs once per kernel).
func (b *Backend) Step() error {
	if b.lost {
		return &DeviceLostError{Err: fmt.Errorf("backend already in failed state")}
	}
	if !rl.IsWindowReady() {
		b.lost = true
		return &DeviceLostError{Err: fmt.Errorf("raylib context no longer ready")}
	}

	w, h := int32(b.cfg.Width), int32(b.cfg.Height)
	wf, hf := float32(b.cfg.Width), float32(b.cfg.Height)

	for _, tex := range b.affinityTex {
		clearTexture(tex)
	}

	rl.BeginBlendMode(rl.BlendAdditive)
	for _, kr := range b.kernels {
		target := b.affinityTex[kr.spec.TargetChannel]
		shader := b.shaderConvolveGrowth
		rl.BeginTextureMode(target)
		rl.BeginShaderMode(shader)
		b.set2f(shader, "resolution", wf, hf)
		b.set1f(shader, "scaledR", kr.scaledR)
		b.set1i(shader, "radiusCells", int32(b.cfg.KernelRadius))
		b.set1i(shader, "ringCount", kr.ringCount)
		b.setArray(shader, "ringAmp", kr.ringAmp, kr.ringCount)
		b.setArray(shader, "ringDist", kr.ringDist, kr.ringCount)
		b.setArray(shader, "ringWidth", kr.ringWidth, kr.ringCount)
		b.set1f(shader, "invNorm", kr.invNorm)
		b.set1f(shader, "growthMu", float32(kr.spec.Mu))
		b.set1f(shader, "growthSigma", float32(kr.spec.Sigma))
		b.set1f(shader, "growthWeight", float32(kr.spec.H))
		b.set1f(shader, "massScale", b.massScale)
		b.set1f(shader, "affinityScale", b.affinityScale)
		rl.SetShaderValueTexture(shader, b.loc(shader, "sourceTex"), b.channelRead[kr.spec.SourceChannel].Texture)
		drawFullscreen(w, h)
		rl.EndShaderMode()
		rl.EndTextureMode()
	}
	rl.EndBlendMode()

	clearTexture(b.channelSumTex)
	rl.BeginBlendMode(rl.BlendAdditive)
	for c := 0; c < b.cfg.Channels; c++ {
		shader := b.shaderChannelSum
		rl.BeginTextureMode(b.channelSumTex)
		rl.BeginShaderMode(shader)
		b.set1f(shader, "massScale", b.massScale)
		b.set1f(shader, "sumScale", b.sumScale)
		rl.SetShaderValueTexture(shader, b.loc(shader, "channelTex"), b.channelRead[c].Texture)
		drawFullscreen(w, h)
		rl.EndShaderMode()
		rl.EndTextureMode()
	}
	rl.EndBlendMode()

	b.runSobel(b.channelSumTex, false, b.sumScale, b.gradSumTex, w, h, wf, hf)
	for c := 0; c < b.cfg.Channels; c++ {
		b.runSobel(b.affinityTex[c], true, b.affinityScale, b.gradUTex[c], w, h, wf, hf)
	}

	for c := 0; c < b.cfg.Channels; c++ {
		b.runFlow(c, w, h, wf, hf)
	}

	for c := 0; c < b.cfg.Channels; c++ {
		b.runAdvect(c, w, h, wf, hf)
	}

	b.channelRead, b.channelWrite = b.channelWrite, b.channelRead
	b.step++
	return nil
}

func (b *Backend) runSobel(src rl.RenderTexture2D, signed bool, inScale float32, dst rl.RenderTexture2D, w, h int32, wf, hf float32) {
	shader := b.shaderSobel
	rl.BeginTextureMode(dst)
	rl.BeginShaderMode(shader)
	b.set2f(shader, "resolution", wf, hf)
	b.set1f(shader, "inScale", inScale)
	signedFlag := float32(0)
	if signed {
		signedFlag = 1
	}
	rl.SetShaderValue(shader, b.loc(shader, "inSigned"), []float32{signedFlag}, rl.ShaderUniformFloat)
	b.set1f(shader, "gradScale", b.gradScale)
	rl.SetShaderValueTexture(shader, b.loc(shader, "srcTex"), src.Texture)
	drawFullscreen(w, h)
	rl.EndShaderMode()
	rl.EndTextureMode()
}

func (b *Backend) runFlow(c int, w, h int32, wf, hf float32) {
	shader := b.shaderFlow
	rl.BeginTextureMode(b.flowTex[c])
	rl.BeginShaderMode(shader)
	b.set1f(shader, "gradUScale", b.gradScale)
	b.set1f(shader, "gradAScale", b.gradScale)
	b.set1f(shader, "sumScale", b.sumScale)
	b.set1f(shader, "betaA", float32(b.cfg.Flow.BetaA))
	b.set1f(shader, "nExp", float32(b.cfg.Flow.N))
	b.set1f(shader, "flowScale", b.flowScale)
	rl.SetShaderValueTexture(shader, b.loc(shader, "gradUTex"), b.gradUTex[c].Texture)
	rl.SetShaderValueTexture(shader, b.loc(shader, "gradATex"), b.gradSumTex.Texture)
	rl.SetShaderValueTexture(shader, b.loc(shader, "asumTex"), b.channelSumTex.Texture)
	drawFullscreen(w, h)
	rl.EndShaderMode()
	rl.EndTextureMode()
}

func (b *Backend) runAdvect(c int, w, h int32, wf, hf float32) {
	shader := b.shaderAdvect
	halfSide := b.cfg.Flow.DistributionSize
	radius := int32(halfSide + 1 + 4) // conservative fixed window; see reintegrate.SearchRadius for the CPU analogue

	rl.BeginTextureMode(b.channelWrite[c])
	rl.ClearBackground(rl.Black)
	rl.BeginShaderMode(shader)
	b.set2f(shader, "resolution", wf, hf)
	b.set1f(shader, "dt", float32(b.cfg.Dt))
	b.set1f(shader, "halfSide", float32(halfSide))
	b.set1i(shader, "radius", radius)
	b.set1f(shader, "massScale", b.massScale)
	b.set1f(shader, "flowScale", b.flowScale)
	rl.SetShaderValueTexture(shader, b.loc(shader, "massTex"), b.channelRead[c].Texture)
	rl.SetShaderValueTexture(shader, b.loc(shader, "flowTex"), b.flowTex[c].Texture)
	drawFullscreen(w, h)
	rl.EndShaderMode()
	rl.EndTextureMode()
}

// Run performs n steps in sequence, stopping at the first error.
func (b *Backend) Run(n int) error {
	for i := 0; i < n; i++ {
		if err := b.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Reset reseeds every channel texture and zeros the step counter.
func (b *Backend) Reset(sd seed.Seed) error {
	return b.applySeed(sd)
}

// CurrentTime returns step * dt.
func (b *Backend) CurrentTime() float64 { return float64(b.step) * b.cfg.Dt }

// CurrentStep returns the number of completed steps.
func (b *Backend) CurrentStep() uint64 { return b.step }

// TotalMass reads back every channel texture and sums decoded mass.
// This is a debug/verification path, not the per-step hot loop, so the
// readback cost is acceptable.
func (b *Backend) TotalMass() float64 {
	view := b.ReadState()
	var total float64
	for _, ch := range view.Channels {
		for _, v := range ch {
			total += float64(v)
		}
	}
	return total
}

// ReadState reads back every channel texture into a caller-owned
// snapshot, decoding the unsigned fixed-point mass convention back to
// float32 — the GPU mirror of propagator.ReadState.
func (b *Backend) ReadState() propagator.StateView {
	w, h, c := b.cfg.Width, b.cfg.Height, b.cfg.Channels
	channels := make([][]float32, c)
	for i := 0; i < c; i++ {
		channels[i] = downloadMass(b.channelRead[i].Texture, w, h, b.massScale)
	}
	return propagator.StateView{
		W: w, H: h, C: c,
		Step: b.step, Time: b.CurrentTime(),
		Channels: channels,
	}
}

func downloadMass(tex rl.Texture2D, w, h int, scale float32) []float32 {
	img := rl.LoadImageFromTexture(tex)
	defer rl.UnloadImage(img)
	colors := rl.LoadImageColors(img)
	defer rl.UnloadImageColors(colors)

	out := make([]float32, w*h)
	for i := 0; i < w*h; i++ {
		col := colors[i]
		code := uint16(col.R)*256 + uint16(col.G)
		out[i] = float32(code) / 65535.0 * scale
	}
	return out
}

// Close releases every GPU resource and the raylib window/context.
func (b *Backend) Close() {
	rl.UnloadShader(b.shaderConvolveGrowth)
	rl.UnloadShader(b.shaderChannelSum)
	rl.UnloadShader(b.shaderSobel)
	rl.UnloadShader(b.shaderFlow)
	rl.UnloadShader(b.shaderAdvect)
	for _, t := range b.channelRead {
		rl.UnloadRenderTexture(t)
	}
	for _, t := range b.channelWrite {
		rl.UnloadRenderTexture(t)
	}
	for _, t := range b.affinityTex {
		rl.UnloadRenderTexture(t)
	}
	for _, t := range b.gradUTex {
		rl.UnloadRenderTexture(t)
	}
	for _, t := range b.flowTex {
		rl.UnloadRenderTexture(t)
	}
	rl.UnloadRenderTexture(b.channelSumTex)
	rl.UnloadRenderTexture(b.gradSumTex)
	rl.CloseWindow()
}
