// Package events runs the admin event stream: a WebSocket hub that fans
// license lifecycle and validation events out to connected dashboard
// clients.
//
// Delivery is loss-tolerant. The broadcast queue and each client's send
// buffer are bounded; when either fills, messages are dropped (and slow
// clients evicted) rather than backpressuring the license service.
package events
