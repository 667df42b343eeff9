package detection

import "sort"

// IoU returns intersection-over-union of two boxes. ok is false when the
// union area is not positive.
func IoU(a, b BoundingBox) (iou float32, ok bool) {
	inter := intersection(a, b)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0, false
	}
	return inter / union, true
}

func intersection(a, b BoundingBox) float32 {
	if a.X1 > b.X2 || a.X2 < b.X1 || a.Y1 > b.Y2 || a.Y2 < b.Y1 {
		return 0
	}
	w := min(a.X2, b.X2) - max(a.X1, b.X1)
	h := min(a.Y2, b.Y2) - max(a.Y1, b.Y1)
	return float32(w) * float32(h)
}

// NMS performs greedy non-maximum suppression. Boxes are stable-sorted by
// descending score; a box is dropped when its IoU with an already kept box of
// the same category is strictly greater than thresh. The input slice is not
// modified.
func NMS(boxes []BoundingBox, thresh float32) []BoundingBox {
	sorted := make([]BoundingBox, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	kept := make([]BoundingBox, 0, len(sorted))
	for _, cand := range sorted {
		keep := true
		for _, k := range kept {
			if k.Category != cand.Category {
				continue
			}
			iou, ok := IoU(cand, k)
			if !ok {
				continue
			}
			if iou > thresh {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, cand)
		}
	}
	return kept
}
