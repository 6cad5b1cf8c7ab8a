// Package device holds the homebus device model and the device registry.
//
// A device is nothing more than an id and a kind (sensor, switch or watch);
// behaviour lives in the simulators on the far side of the bus. The Registry
// owns the id counter and the id -> kind map, persists a Snapshot after every
// mutation, and never hands out an id twice, even across restarts.
//
// Snapshots are stored either as a JSON file (FileStore) or in SQLite
// (SQLiteStore). The JSON form is:
//
//	{"device_last_id": 3, "devices": {"1": "sensor", "2": "switch", "3": "watch"}}
//
// The package also defines the request verbs understood by every device
// (GET and TOGGLE). Anything else seen on a device topic is a reply.
package device
