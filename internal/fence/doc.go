// Package fence holds the caller-facing side of the beacon pipeline.
//
// Controller exposes the region operations (create, remove, list, scanner
// configuration, reboot replay) over a RegionStore and a Scanner. Normalizer
// sits between the monitor state machine and the dispatch queue: it joins each
// canonical event with its stored definition and drops events for unknown
// regions or unsubscribed triggers.
//
// AsError turns any failure into the {code, message} shape returned by the API.
package fence
