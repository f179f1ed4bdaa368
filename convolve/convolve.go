// Package convolve applies frequency-domain convolution between an
// activation field and a cached kernel spectrum. It owns a reusable
// real-to-complex / complex-to-real FFT plan sized for one W×H grid.
// Once constructed it allocates only when Forward is handed a
// destination spectrum that is nil or of the wrong shape.
package convolve

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrum is the 2D real-to-complex FFT of a W×H real field: H rows of
// W/2+1 complex coefficients, the shape gonum's real FFT produces per
// row before the column pass.
type Spectrum struct {
	Rows, Cols int // Cols = W/2+1
	Data       []complex128
}

func newSpectrum(w, h int) *Spectrum {
	cols := w/2 + 1
	return &Spectrum{Rows: h, Cols: cols, Data: make([]complex128, h*cols)}
}

// Plan is a reusable 2D FFT plan for fields of a fixed W×H shape. The
// row pass uses a real-to-complex 1D FFT (width W); the column pass
// uses a full complex 1D FFT (height H) over the row-transformed
// coefficients. Amplitude convention follows gonum: Forward is
// unscaled, Inverse divides by each transformed dimension's length, so
// a full round trip divides by W·H exactly as spec.md requires.
type Plan struct {
	w, h int

	rowFFT *fourier.FFT      // real-to-complex, length W
	colFFT *fourier.CmplxFFT // complex-to-complex, length H

	// scratch, sized once, reused every call
	rowCoeff []complex128 // W/2+1, reused per row
	colIn    []complex128 // H, reused per column
	colOut   []complex128 // H, reused per column
	rowBuf   []float64    // W, reused per row (Forward)
	rowOut   []float64    // W, reused per row (Inverse)
	work     []complex128 // Rows*Cols, reused across Inverse calls
}

// NewPlan constructs an FFT plan for W×H real fields. W and H must be
// positive; this is a construction-time invariant, not a runtime
// Config failure (the propagator validates grid shape before building
// any plan).
func NewPlan(w, h int) (*Plan, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("convolve: invalid plan shape %dx%d", w, h)
	}
	p := &Plan{
		w: w, h: h,
		rowFFT: fourier.NewFFT(w),
		colFFT: fourier.NewCmplxFFT(h),
	}
	p.rowCoeff = make([]complex128, w/2+1)
	p.colIn = make([]complex128, h)
	p.colOut = make([]complex128, h)
	p.rowBuf = make([]float64, w)
	p.rowOut = make([]float64, w)
	p.work = make([]complex128, h*(w/2+1))
	return p, nil
}

// Forward computes the 2D real-to-complex FFT of a row-major W×H real
// field into dst, allocating dst's backing array only if it is nil or
// the wrong shape (propagator-owned scratch, sized once).
func (p *Plan) Forward(field []float32, dst *Spectrum) *Spectrum {
	if dst == nil || dst.Rows != p.h || dst.Cols != p.w/2+1 {
		dst = newSpectrum(p.w, p.h)
	}

	// Row pass: real-to-complex FFT of each row.
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			p.rowBuf[x] = float64(field[y*p.w+x])
		}
		coeff := p.rowFFT.Coefficients(p.rowCoeff, p.rowBuf)
		copy(dst.Data[y*dst.Cols:(y+1)*dst.Cols], coeff)
	}

	// Column pass: full complex FFT down each column of coefficients.
	for c := 0; c < dst.Cols; c++ {
		for y := 0; y < p.h; y++ {
			p.colIn[y] = dst.Data[y*dst.Cols+c]
		}
		out := p.colFFT.Coefficients(p.colOut, p.colIn)
		for y := 0; y < p.h; y++ {
			dst.Data[y*dst.Cols+c] = out[y]
		}
	}
	return dst
}

// Inverse computes the 2D complex-to-real inverse FFT of src into the
// row-major W×H real field dst, which must already be sized W·H.
func (p *Plan) Inverse(src *Spectrum, dst []float32) {
	copy(p.work, src.Data)

	// Inverse column pass (normalizes by H).
	for c := 0; c < src.Cols; c++ {
		for y := 0; y < p.h; y++ {
			p.colIn[y] = p.work[y*src.Cols+c]
		}
		out := p.colFFT.Sequence(p.colOut, p.colIn)
		for y := 0; y < p.h; y++ {
			p.work[y*src.Cols+c] = out[y]
		}
	}

	// Inverse row pass (normalizes by W); gonum's real Sequence wants
	// exactly W/2+1 coefficients and returns W real samples.
	for y := 0; y < p.h; y++ {
		row := p.work[y*src.Cols : (y+1)*src.Cols]
		seq := p.rowFFT.Sequence(p.rowOut, row)
		for x := 0; x < p.w; x++ {
			dst[y*p.w+x] = float32(seq[x])
		}
	}
}

// Convolve performs circular convolution of input against a cached
// frequency-domain kernel: forward FFT of input, pointwise complex
// multiply by freqKernel, inverse FFT into output. Circular
// convolution yields periodic boundaries for free. scratch is
// propagator-owned and reused across steps and kernels.
func (p *Plan) Convolve(input []float32, freqKernel *Spectrum, scratch *Spectrum, output []float32) {
	spec := p.Forward(input, scratch)
	for i, k := range freqKernel.Data {
		spec.Data[i] = spec.Data[i] * k
	}
	p.Inverse(spec, output)
}

// CloneSpectrum returns a fresh, independently-owned copy of a
// frequency kernel shaped for this plan, used when caching a kernel's
// frequency form for the simulation's lifetime.
func (p *Plan) CloneSpectrum(src *Spectrum) *Spectrum {
	out := newSpectrum(p.w, p.h)
	copy(out.Data, src.Data)
	return out
}
