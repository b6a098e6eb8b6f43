package thing

import "time"

// Direction tells which way a bridged value travelled.
type Direction string

// Bridge directions.
const (
	DirectionToCloud  Direction = "to_cloud"
	DirectionToDevice Direction = "to_device"
)

// Event is a value that crossed the bridge.
type Event struct {
	PeripheralID   string    `json:"peripheral_id"`
	CloudID        string    `json:"cloud_id,omitempty"`
	Characteristic string    `json:"characteristic"`
	Topic          string    `json:"topic"`
	Direction      Direction `json:"direction"`
	Data           []byte    `json:"data"`
	Timestamp      time.Time `json:"timestamp"`
}

// Recorder observes bridged values. Record must not block.
type Recorder interface {
	Record(ev Event)
}

// MultiRecorder fans an event out to several recorders.
type MultiRecorder []Recorder

// Record implements Recorder.
func (m MultiRecorder) Record(ev Event) {
	for _, r := range m {
		if r != nil {
			r.Record(ev)
		}
	}
}

type noopRecorder struct{}

func (noopRecorder) Record(Event) {}
