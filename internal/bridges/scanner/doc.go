// Package scanner bridges the fence service to a beacon scanner over MQTT.
//
// Outbound, the Bridge turns monitoring, ranging and settings operations into
// messages on the scanner command and settings topics. Inbound, it tracks the
// scanner's retained status (bound, Bluetooth permission) and forwards region
// state and ranging notifications to a RegionListener, normally the monitor
// state machine.
//
// Commands that need a live scanner fail with beacon.ErrServiceUnavailable
// while the broker is down or the scanner is unbound, and with
// beacon.ErrPermissionDenied while Bluetooth permission is missing. When the
// scanner binds again the bridge replays every region it monitors.
package scanner
