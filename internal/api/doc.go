// Package api serves the fence controller over HTTP and streams dispatched
// events over WebSocket.
//
// Routes live under /api/v1:
//
//	GET    /health          liveness plus scanner and dispatcher status
//	GET    /beacons         ActiveBeacon view of every fence
//	GET    /beacons/ids     registered ids
//	POST   /beacons         create or replace a fence
//	DELETE /beacons         remove every fence
//	DELETE /beacons/{id}    remove one fence
//	PUT    /scanner         persist and apply scanner settings
//	POST   /initialize      register the callback dispatcher handle
//	GET    /ws              live feed; subscribe to "beacon.triggered"
//
// Everything except /health requires an HS256 bearer token from package
// auth, unless no secret is configured, in which case authentication is off.
// Domain failures are returned as {status, code, message} with the fence
// error codes.
package api
