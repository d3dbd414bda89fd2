package evhttp

import (
	"github.com/badu/evhttp/internal/conn"
	"github.com/badu/evhttp/internal/wire"
	"github.com/badu/evhttp/internal/ws"
)

// Request is the host-facing parsed request record.
type Request = wire.Request

// Response is what a host hands back to Respond.
type Response = wire.Response

// Ref identifies a connection across the request queue and pending
// responses without aliasing a recycled slot.
type Ref = conn.Ref

// WSConn is a single WebSocket connection, as seen by host-registered
// event hooks.
type WSConn = ws.Conn

// WSMessage is a reassembled WebSocket message handed to a message
// hook.
type WSMessage = ws.Message

// Metrics is the point-in-time record returned by GetMetrics.
type Metrics = metricsSnapshot
