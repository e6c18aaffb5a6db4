package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/beacon-fence-core/internal/beacon"
)

// Measurement names written by this package.
const (
	MeasurementBeaconEvents = "beacon_events"
	MeasurementDispatch     = "dispatch"
)

// EventPoint builds the beacon_events point for a dispatched item.
// RSSI is only present as a field when the event carried one.
func EventPoint(item beacon.DispatchItem, ts time.Time) *write.Point {
	tags := map[string]string{
		"region_id": item.RegionID,
		"event":     item.Kind.String(),
		"uuid":      item.Beacon.UUID,
	}
	fields := map[string]interface{}{
		"callback_handle": item.CallbackID,
	}
	if item.RSSI != nil {
		fields["rssi"] = *item.RSSI
	}
	return write.NewPoint(MeasurementBeaconEvents, tags, fields, ts)
}

// WriteBeaconEvent records a dispatched item.
func (c *Client) WriteBeaconEvent(item beacon.DispatchItem) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(EventPoint(item, time.Now()))
}

// BeaconTriggered makes the client a fence observer.
func (c *Client) BeaconTriggered(item beacon.DispatchItem) {
	c.WriteBeaconEvent(item)
}

// WriteDispatchOutcome records whether a callback delivery succeeded.
func (c *Client) WriteDispatchOutcome(item beacon.DispatchItem, err error) {
	if !c.IsConnected() {
		return
	}
	outcome := "delivered"
	if err != nil {
		outcome = "dropped"
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementDispatch,
		map[string]string{"region_id": item.RegionID, "outcome": outcome},
		map[string]interface{}{"count": 1},
		time.Now(),
	))
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
