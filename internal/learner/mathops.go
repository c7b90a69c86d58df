package learner

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// All helpers assume contiguous matrices (allocated via mat.NewDense), so
// they may operate on the raw backing slices directly.

func sigmoidInPlace(m *mat.Dense) {
	d := m.RawMatrix().Data
	for i, v := range d {
		d[i] = 1 / (1 + math.Exp(-v))
	}
}

func tanhInPlace(m *mat.Dense) {
	d := m.RawMatrix().Data
	for i, v := range d {
		d[i] = math.Tanh(v)
	}
}

// addBiasRow adds b to every row of m.
func addBiasRow(m *mat.Dense, b []float64) {
	rows, cols := m.Dims()
	d := m.RawMatrix().Data
	for i := 0; i < rows; i++ {
		row := d[i*cols : (i+1)*cols]
		for j := range row {
			row[j] += b[j]
		}
	}
}

// addMulInto computes dst += a * wT.
func addMulInto(dst, a *mat.Dense, w *mat.Dense) {
	var tmp mat.Dense
	tmp.Mul(a, w.T())
	dd := dst.RawMatrix().Data
	td := tmp.RawMatrix().Data
	for i := range dd {
		dd[i] += td[i]
	}
}

// hadamardInto computes dst = a .* b elementwise.
func hadamardInto(dst, a, b *mat.Dense) {
	dd := dst.RawMatrix().Data
	ad := a.RawMatrix().Data
	bd := b.RawMatrix().Data
	for i := range dd {
		dd[i] = ad[i] * bd[i]
	}
}

// addInto computes dst += a.
func addInto(dst, a *mat.Dense) {
	dd := dst.RawMatrix().Data
	ad := a.RawMatrix().Data
	for i := range dd {
		dd[i] += ad[i]
	}
}

// accumulateAtB computes dst += aT * b, the shape used by weight gradients.
func accumulateAtB(dst, a, b *mat.Dense) {
	var tmp mat.Dense
	tmp.Mul(a.T(), b)
	addInto(dst, &tmp)
}

// colSumsInto adds the column sums of m into acc.
func colSumsInto(acc []float64, m *mat.Dense) {
	rows, cols := m.Dims()
	d := m.RawMatrix().Data
	for i := 0; i < rows; i++ {
		row := d[i*cols : (i+1)*cols]
		for j := range row {
			acc[j] += row[j]
		}
	}
}
