// Package influxdb stores fence event history in InfluxDB.
//
// It wraps influxdb-client-go v2 with a batched, non-blocking write API.
// The Client implements fence.Observer, so every item handed to the
// dispatcher is recorded as a beacon_events point:
//
//	tags:   region_id, event (enter|exit), uuid
//	fields: callback_handle, rssi (only when the event carried one)
//
// Dispatch outcomes are recorded separately in the dispatch measurement.
//
// History is optional. Connect returns ErrDisabled when influxdb.enabled is
// false and the service runs without it.
package influxdb
