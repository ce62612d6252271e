// Package gateway orchestrates the huddle-gateway server components.
//
// # Overview
//
// The gateway owns the SQLite store, the event bus, the conversation and user
// services, the identity gate, metrics and the HTTP server. New wires them
// from a config.Config; Run serves until the context is canceled and then
// shuts everything down within server.shutdown_timeout.
//
// # HTTP API
//
// Every /api route requires a bearer token:
//
//	GET  /api/conversations                     conversation summaries, newest first
//	POST /api/conversations                     find or create (201 created, 200 reused)
//	GET  /api/conversations/{id}                conversation detail
//	GET  /api/conversations/{id}/messages       ?offset=&limit= page, ascending
//	POST /api/conversations/{id}/messages       send; honors Idempotency-Key
//	POST /api/conversations/{id}/read           mark as read
//	GET  /api/users/search?q=                   search other users
//	PUT  /api/users/me/name                     change display name
//
// Failures are written as {"error": {"code", "message"}} with the HTTP status
// of the error's code.
//
// # Subscriptions
//
// GET /api/subscriptions upgrades to a WebSocket. The token may be passed in
// the access_token query parameter. Frames are JSON text:
//
//	-> {"type":"subscribe","id":"1","topic":"sentMessage","conversation_id":"..."}
//	-> {"type":"subscribe","id":"2","topic":"hasUpdateConversation"}
//	-> {"type":"unsubscribe","id":"1"}
//	-> {"type":"ping"}
//	<- {"type":"ack","id":"1"}
//	<- {"type":"next","id":"1","payload":{...}}
//	<- {"type":"error","id":"1","error":{"code":"FORBIDDEN","message":"..."}}
//	<- {"type":"pong"}
//
// Each socket has one reader and one writer goroutine. Deliveries are dropped
// when the socket's outbound queue is full.
//
// # Health
//
//	GET /health        liveness
//	GET /health/ready  database ping
package gateway
