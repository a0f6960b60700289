package websocket

import "encoding/json"

// frame is the generic envelope every server->client payload is wrapped
// in: a socket.io-style {event, data} pair so a single write pump can
// serialize any outbound payload uniformly.
type frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// inboundFrame is the generic shape a client->server payload is parsed
// into before being dispatched by event name.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
