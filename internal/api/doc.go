// Package api provides the HTTP REST front end for the homebus controller.
//
// It exposes the same operations as the console over JSON: listing, adding
// and removing devices, sending a request to one device and waiting for its
// reply, broadcasting to every device of a kind, and reading the last cached
// value of a device.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Routes (all under /api/v1):
//
//	GET    /health
//	GET    /devices              ?kind=switch filters by kind
//	POST   /devices              {"kind": "switch"}
//	DELETE /devices/{id}
//	GET    /devices/{id}/reading
//	POST   /devices/{id}/request {"verb": "TOGGLE"}, empty verb sends the kind's default
//	POST   /kinds/{kind}/broadcast
//	GET    /audit                ?action=&device_id=&limit=&offset=
//	GET    /ws                   ?channels=device.reading,command.result
//
// /ws streams controller events as {"channel","at","data"} frames. A stream
// starts on every channel unless ?channels= names some ("*" is all of them);
// clients change it with {"op":"subscribe"|"unsubscribe","channels":[...]}
// and get an Ack listing their channels. Unknown channels are rejected.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
