// Package gateway is the entry point to the gateway's capabilities.
//
// A Gateway ties together the BLE scheduler, the cloud registrar and the
// per-thing broker connectors. Callers scan for things, connect to one and
// discover its characteristics, register it with the cloud, and then use
// the returned *thing.Thing to bridge values between the device and the
// broker.
//
//	things, err := gw.ScanForThings(ctx, gateway.ScanOptions{OnlyNative: true})
//	info, err := gw.ConnectAndDiscover(ctx, things[0])
//	t, err := gw.RegisterThing(ctx, "Kitchen sensor", info)
//
// The ThingProvider hands out one *thing.Thing per peripheral. Registered
// things get an MQTT connector that opens a TLS session with the thing's
// certificates, using the cloud id as client id and topic prefix.
package gateway
