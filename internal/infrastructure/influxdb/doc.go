// Package influxdb records gateway activity in InfluxDB.
//
// It wraps the influxdb-client-go v2 non-blocking write API. A connected
// Client serves as a thing.Recorder, writing every value bridged between a
// device and the broker to the thing_data measurement, and as a
// ble.Observer, writing retired scan and connect tasks to ble_task.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without history
//	}
//	defer client.Close()
//
// Writes are batched according to batch_size and flush_interval. Write
// failures are delivered asynchronously to the SetOnError callback; a
// disconnected or nil Client drops writes silently.
package influxdb
