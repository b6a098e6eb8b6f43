package influxdb

import (
	"encoding/hex"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/thing"
)

// Measurement names.
const (
	MeasurementThingData = "thing_data"
	MeasurementBLETask   = "ble_task"
	MeasurementScan      = "scan"
)

// Record writes a bridged value as a thing_data point. It implements
// thing.Recorder.
func (c *Client) Record(ev thing.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(thingDataPoint(ev))
}

// TaskFinished writes a retired scheduler task as a ble_task point. It
// implements ble.Observer.
func (c *Client) TaskFinished(kind ble.TaskKind, err error) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(taskPoint(kind, err, time.Now()))
}

// ScanFinished writes the size of a completed scan as a scan point.
func (c *Client) ScanFinished(things []device.Info) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(scanPoint(things, time.Now()))
}

func thingDataPoint(ev thing.Event) *write.Point {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	tags := map[string]string{
		"peripheral_id":  ev.PeripheralID,
		"characteristic": ev.Characteristic,
		"direction":      string(ev.Direction),
	}
	if ev.CloudID != "" {
		tags["cloud_id"] = ev.CloudID
	}
	if ev.Topic != "" {
		tags["topic"] = ev.Topic
	}
	return write.NewPoint(MeasurementThingData, tags,
		map[string]interface{}{
			"bytes":   len(ev.Data),
			"payload": hex.EncodeToString(ev.Data),
		},
		ts,
	)
}

func taskPoint(kind ble.TaskKind, err error, ts time.Time) *write.Point {
	fields := map[string]interface{}{"ok": err == nil}
	if err != nil {
		fields["error"] = err.Error()
	}
	return write.NewPoint(MeasurementBLETask, map[string]string{"kind": string(kind)}, fields, ts)
}

func scanPoint(things []device.Info, ts time.Time) *write.Point {
	native := 0
	for _, t := range things {
		if t.IsNative {
			native++
		}
	}
	return write.NewPoint(MeasurementScan, nil,
		map[string]interface{}{"things": len(things), "native": native},
		ts,
	)
}
