// Package telemetry formats detection results as JSON events and delivers
// them to best-effort sinks (UDP, MQTT, WebSocket).
package telemetry

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
)

// Decimal2 marshals as a JSON number with two decimals.
type Decimal2 float64

func (d Decimal2) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, float64(d), 'f', 2, 64), nil
}

// Decimal3 marshals as a JSON number with three decimals.
type Decimal3 float64

func (d Decimal3) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, float64(d), 'f', 3, 64), nil
}

// Detection is one box in an Event.
type Detection struct {
	Class string   `json:"cls"`
	Conf  Decimal3 `json:"conf"`
	BBox  [4]int   `json:"bbox"`
}

// Event is the datagram sent for every processed frame.
type Event struct {
	TS         Decimal3    `json:"ts"`
	FrameID    uint64      `json:"frame_id"`
	LoopFPS    Decimal2    `json:"loop_fps"`
	DetFPS     Decimal2    `json:"det_fps"`
	Person     bool        `json:"person"`
	Detections []Detection `json:"detections"`
}

// Marshal encodes the event.
func (e Event) Marshal() ([]byte, error) {
	if e.Detections == nil {
		e.Detections = []Detection{}
	}
	return json.Marshal(e)
}

// NewEvent builds an event. Boxes of personClass are labelled "person",
// everything else "other".
func NewEvent(frameID uint64, at time.Time, loopFPS, detFPS float64, person bool, boxes []detection.BoundingBox, personClass int) Event {
	dets := make([]Detection, 0, len(boxes))
	for _, b := range boxes {
		cls := "other"
		if b.Category == personClass {
			cls = "person"
		}
		dets = append(dets, Detection{
			Class: cls,
			Conf:  Decimal3(b.Score),
			BBox:  [4]int{b.X1, b.Y1, b.X2, b.Y2},
		})
	}
	return Event{
		TS:         Decimal3(float64(at.UnixMilli()) / 1000),
		FrameID:    frameID,
		LoopFPS:    Decimal2(loopFPS),
		DetFPS:     Decimal2(detFPS),
		Person:     person,
		Detections: dets,
	}
}
