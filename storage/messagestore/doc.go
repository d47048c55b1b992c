// Package messagestore holds the live, correlated V2X entities.
//
// # Identity and updates
//
// Each protocol has its own collection, kept in insertion order:
//
//	CAM     station id            merge: absent optional fields keep their value
//	DENM    station id, sequence  replace; a termination removes the entity
//	SPATEM  station id            replace
//	MAPEM   intersection id       replace, keeping the SPATEM link
//	SREM    station id, first     replace when the same station repeats a
//	        request intersection  request for one of its intersections
//	SSEM    intersection id       replace
//
// # Links
//
// Entities refer to each other by key, never by pointer. Upserts create
// links (SPATEM to MAPEM, DENM and SREM to CAM, SSEM to SREM); correlation
// scans run in insertion order and stop at the first match. When an entity
// leaves the store every link pointing at it is cleared.
//
// # Expiry
//
// Every upsert marks the entity modified. Sweep keeps modified entities and
// clears the flag; anything not seen since the previous sweep is evicted.
// An entity that stops being refreshed therefore disappears on the second
// sweep after its last update. Sweeper runs Sweep on one of the selectable
// intervals.
//
// # Events
//
// Listeners are told about every insert, update and removal with a copy of
// the entity. Delivery happens after the store lock is released, in
// mutation order.
package messagestore
