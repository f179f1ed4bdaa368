// Package gradient computes 2D Sobel gradients of scalar fields with
// periodic wrap, used for both the channel-sum gradient and each
// target channel's affinity gradient.
package gradient

// Sobel writes the x and y partial derivatives of a W×H row-major
// field into dstX, dstY using the 3×3 stencil
//
//	∂/∂x: [[-1,0,1],[-2,0,2],[-1,0,1]] / 8
//	∂/∂y: transpose of the above
//
// with periodic wrap at the edges. The ⅛ scale is applied once here,
// matching the discrete derivative's normalization.
func Sobel(src []float32, w, h int, dstX, dstY []float32) {
	const scale = 1.0 / 8.0
	for y := 0; y < h; y++ {
		yN := wrap(y-1, h)
		yS := wrap(y+1, h)
		for x := 0; x < w; x++ {
			xW := wrap(x-1, w)
			xE := wrap(x+1, w)

			nw := src[yN*w+xW]
			n := src[yN*w+x]
			ne := src[yN*w+xE]
			w0 := src[y*w+xW]
			e := src[y*w+xE]
			sw := src[yS*w+xW]
			s := src[yS*w+x]
			se := src[yS*w+xE]

			gx := (ne + 2*e + se - nw - 2*w0 - sw) * scale
			gy := (sw + 2*s + se - nw - 2*n - ne) * scale

			i := y*w + x
			dstX[i] = gx
			dstY[i] = gy
		}
	}
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}
