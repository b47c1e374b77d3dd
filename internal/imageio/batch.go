package imageio

import "fmt"

// Batch is a preprocessed image batch for one scene: Views images, three
// channels each, stored view-major as [view][channel][y][x] with values in
// [0,1]. It is not mutated after LoadAndPreprocess returns it.
type Batch struct {
	Paths  []string
	Views  int
	Height int
	Width  int
	Data   []float32
}

// Shape returns the model input layout with the leading batch dimension
// added: [1, views, 3, height, width].
func (b *Batch) Shape() []int64 {
	return []int64{1, int64(b.Views), 3, int64(b.Height), int64(b.Width)}
}

// At returns the value of one channel sample.
func (b *Batch) At(view, c, y, x int) float32 {
	return b.Data[b.index(view, c, y, x)]
}

func (b *Batch) index(view, c, y, x int) int {
	return ((view*3+c)*b.Height+y)*b.Width + x
}

// View returns the [3][H][W] slice for one view.
func (b *Batch) View(i int) []float32 {
	n := 3 * b.Height * b.Width
	return b.Data[i*n : (i+1)*n]
}

// Validate checks the data length against the declared dimensions.
func (b *Batch) Validate() error {
	if b.Views <= 0 || b.Height <= 0 || b.Width <= 0 {
		return fmt.Errorf("invalid batch dimensions %dx%dx%d", b.Views, b.Height, b.Width)
	}
	if want := b.Views * 3 * b.Height * b.Width; len(b.Data) != want {
		return fmt.Errorf("batch data length %d, want %d", len(b.Data), want)
	}
	return nil
}
