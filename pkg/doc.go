// Package pkg provides the libraries behind the zkb zKillboard client.
//
// # Overview
//
// zkb fetches resources from the zKillboard API and keeps every response in a
// persistent cache that is revalidated with If-Modified-Since. The pkg
// directory is organized into these areas:
//
//  1. [zkillboard] - Cache coordination (trust, revalidate, replay sticky denials)
//  2. [transport] - One logical request with bounded, per-status retry budgets
//  3. [cache] - Document stores (file, SQLite, Redis, MongoDB, null)
//  4. [errors] - Coded errors and the classified HTTPError
//  5. [observability] - Fetch, cache and HTTP hooks, with Prometheus metrics
//  6. [httputil] - Retry loop, backoff schedules and network error classification
//
// # Architecture
//
// The data flow of a fetch:
//
//	caller
//	   ↓
//	[zkillboard] Client.Fetch (load document, decide)
//	   ↓
//	[transport] Transport.Do (retry until a terminal status)
//	   ↓
//	[cache] Store.Save (payload or sticky denial)
//	   ↓
//	json.RawMessage or *errors.HTTPError
//
// # Quick Start
//
//	store, err := cache.NewFileStore(dir)
//	if err != nil {
//	    return err
//	}
//	tr := transport.New(transport.WithUserAgent("my-tool/1.0"))
//	defer tr.Close()
//
//	client := zkillboard.New(tr, store)
//	data, err := client.Fetch(ctx, "kills/characterID/90000001/", nil, false)
//
// [zkillboard]: github.com/matzehuels/zkbclient/pkg/zkillboard
// [transport]: github.com/matzehuels/zkbclient/pkg/transport
// [cache]: github.com/matzehuels/zkbclient/pkg/cache
// [errors]: github.com/matzehuels/zkbclient/pkg/errors
// [observability]: github.com/matzehuels/zkbclient/pkg/observability
// [httputil]: github.com/matzehuels/zkbclient/pkg/httputil
package pkg
