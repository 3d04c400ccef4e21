// Package client talks to a BSB-LAN gateway over its HTTP/JSON API.
//
// Endpoints used:
//
//	GET  /JQ={ids}     current values, at most 30 ids per request
//	GET  /JC={ids}     parameter definitions (v2)
//	GET  /JK=ALL       category list
//	GET  /JK={cat}     definitions of one category
//	GET  /JI           gateway information (v2)
//	GET  /JV           API version probe
//	GET  /JA           24h averages (v1)
//	GET  /JL           configuration dump, locates the 24h averages (v2)
//	POST /JS           write {Parameter, Value, Type}
//	GET  /I{id}={val}  legacy plain-text write
//
// The gateway is a small embedded system that cannot serve overlapping
// requests. The Client therefore queues every request behind a single
// slot; callers on different goroutines are served one at a time in
// arrival order.
//
// Usage:
//
//	c, err := client.New(client.Options{Host: "192.168.1.50"})
//	if err != nil {
//	    return err
//	}
//	values, err := c.Query(ctx, []string{"700", "8700", "710!1"})
package client
