package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
)

func TestEventJSON(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	boxes := []detection.BoundingBox{
		{X1: 10, Y1: 20, X2: 110, Y2: 220, Category: 0, Score: 0.87654},
		{X1: 1, Y1: 2, X2: 3, Y2: 4, Category: 2, Score: 0.5},
	}

	payload, err := NewEvent(42, at, 29.876, 9.5, true, boxes, detection.PersonClass).Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"ts":1700000000.123,"frame_id":42,"loop_fps":29.88,"det_fps":9.50,"person":true,` +
		`"detections":[{"cls":"person","conf":0.877,"bbox":[10,20,110,220]},{"cls":"other","conf":0.500,"bbox":[1,2,3,4]}]}`
	if string(payload) != want {
		t.Errorf("payload =\n%s\nwant\n%s", payload, want)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
}

func TestEventEmptyDetections(t *testing.T) {
	payload, err := Event{FrameID: 1}.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Detections []Detection `json:"detections"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Detections == nil {
		t.Errorf("detections encoded as null: %s", payload)
	}
}
