// Package ipc implements the local protocol between the Broomy daemon and
// its clients.
//
// # Wire format
//
// Messages are newline-delimited JSON objects over a Unix socket. A client
// sends requests:
//
//	{"id":"1","channel":"git:status","args":{"dir":"/path"}}
//
// and receives exactly one response per request, in completion order:
//
//	{"id":"1","result":{...}}
//	{"id":"1","error":"...","category":"git","suggestion":"..."}
//
// After calling events:subscribe the connection also receives events:
//
//	{"event":"pty:data:abc","payload":{...}}
//
// # Channels
//
// Handlers are registered on a Router by channel name ("<area>:<operation>").
// The server itself answers events:subscribe and events:unsubscribe.
// Failed calls are categorized with apperror and recorded in the error log.
package ipc
