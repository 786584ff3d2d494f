// Package coord implements the cross-process coordination primitives that
// let independent gateway processes share one browser installation: a
// sentinel-file mutex, a TTL-leased action lock, a window-ownership
// registry, and a rendezvous cache for the debug endpoint.
//
// Every durable structure is a JSON file under the coordination directory,
// named by profile key so distinct profiles never interact. Writes are
// write-to-temp-then-rename; readers treat a missing or unparseable file
// as absent.
package coord
