// Package process runs the callback runtime as a managed subprocess.
//
// Manager owns one process lifetime: it starts the binary in its own process
// group, feeds it lines on stdin, hands stdout lines to a callback and stops
// the whole group with SIGTERM followed by SIGKILL after a grace period.
//
// Runtime implements dispatch.Environment on top of Manager. Each execution
// context is a fresh process started with the registered dispatcher handle in
// BEACONFENCE_DISPATCHER_HANDLE. The two sides speak JSON lines:
//
//	runtime -> service  {"type":"ready"}
//	service -> runtime  {"type":"beacon_triggered","id":1,"item":{...}}
//	runtime -> service  {"type":"done","id":1,"ok":true}
//
// Lines that are not JSON messages are logged as runtime output. A process
// that exits, or never reports ready within ReadyTimeout, completes every
// outstanding and future delivery on that context with an error.
package process
