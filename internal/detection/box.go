package detection

import "fmt"

// BoundingBox is a detected object in source-frame pixel coordinates.
type BoundingBox struct {
	X1, Y1, X2, Y2 int
	Category       int
	Score          float32
}

// Area returns (x2-x1)*(y2-y1).
func (b BoundingBox) Area() float32 {
	return float32(b.X2-b.X1) * float32(b.Y2-b.Y1)
}

// Label returns the class name for the box category.
func (b BoundingBox) Label() string {
	return ClassName(b.Category)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("%s(%.3f)[%d,%d,%d,%d]", b.Label(), b.Score, b.X1, b.Y1, b.X2, b.Y2)
}

// HasClass reports whether any box is of category with score >= minScore.
func HasClass(boxes []BoundingBox, category int, minScore float32) bool {
	for _, b := range boxes {
		if b.Category == category && b.Score >= minScore {
			return true
		}
	}
	return false
}
