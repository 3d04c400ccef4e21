// Package object provides the local object store of the BSB-LAN bridge.
//
// Every tracked heating parameter, every gateway info field and every
// grouping channel is an Object. An Object's current value lives in a
// separate State so that value updates never rewrite metadata.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────┐
//	│                      Object Store                          │
//	│                                                            │
//	│  ┌──────────────────┐        ┌──────────────────┐          │
//	│  │     Registry     │        │    Repository    │          │
//	│  │  (registry.go)   │───────▶│ (repository.go)  │          │
//	│  │                  │        │                  │          │
//	│  │ • Cache          │        │ • SQLite JSON    │          │
//	│  │ • State listeners│        │ • objects/states │          │
//	│  └──────────────────┘        └──────────────────┘          │
//	└───────────────────────────────────────────────────────────┘
//
// The sync engine talks to the Registry through Exists, Get, Create,
// Update, SetValue and ListAll. The REST and WebSocket layers read the
// same Registry and feed user writes back in with SetValue(ack=false);
// listeners registered with OnStateChange observe both directions.
//
// # Identity
//
// Object IDs are opaque strings. Parameter objects use
// "<sanitised name> (<parameter id>)", info objects "info.<key>" and
// averages "avg.<object id>". The native payload of a parameter object
// holds the parameter id and its device definition, which is the source
// of truth for startup reconciliation.
//
// # Usage
//
//	repo := object.NewSQLiteRepository(db.DB)
//	reg := object.NewRegistry(repo)
//	if err := reg.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	reg.OnStateChange(func(c object.StateChange) { ... })
package object
