// Package transport performs HTTP requests against the zKillboard API with
// layered retries.
//
// # Retry budgets
//
// Each call to [Transport.Do] runs until it reaches a terminal outcome:
//
//	connection failure     up to 5 retries, 1s apart
//	read timeout (GET)     unlimited, immediate
//	502, 504               immediate  ┐ shared budget of 5
//	503                    2s × n     ┘
//	520                    5s, own budget of 5
//
// 2xx and 304 responses are returned. Every other status, and any retryable
// status whose budget is spent, becomes an [*errors.HTTPError].
//
// # Conditional requests
//
// GET requests carry If-Modified-Since when a timestamp is supplied. After
// each Do, [Transport.LastModified] reports the Last-Modified header of the
// last response that had one.
//
// # Connections
//
// By default every attempt opens a new connection. [WithKeepAlive] keeps one
// pooled connection alive until [Transport.Close].
package transport
