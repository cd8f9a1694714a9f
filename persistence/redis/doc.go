// Package redis provides Redis-based implementations of the qchain persistence interfaces.
//
// It provides two store implementations:
//   - TxStore: implements qchain.TxJournal, the journal of submitted transactions
//   - SessionStore: implements qchain.KVStore for the last wallet session of each chain family
//
// # Basic Usage
//
//	import (
//	    "github.com/redis/go-redis/v9"
//	    qchain "github.com/Jiyansh2006/q-chain2"
//	    redisstore "github.com/Jiyansh2006/q-chain2/persistence/redis"
//	)
//
//	client := redis.NewClient(&redis.Options{
//	    Addr: "localhost:6379",
//	})
//
//	engine := qchain.NewEngine(registry, factory,
//	    qchain.WithJournal(redisstore.NewTxStore(client)),
//	    qchain.WithKVStore(redisstore.NewSessionStore(client, redisstore.WithSessionStoreTTL(30*24*time.Hour))),
//	)
//
// # Multi-Tenant Usage
//
// Use key prefixes to isolate data for different applications or environments:
//
//	prodTxStore := redisstore.NewTxStore(client, redisstore.WithTxStoreKeyPrefix("prod"))
//	testTxStore := redisstore.NewTxStore(client, redisstore.WithTxStoreKeyPrefix("test"))
//
// # Redis Key Structure
//
// TxStore uses the following key patterns:
//
//   - qchain:tx:{txID} - Record data (JSON)
//   - qchain:tx:pending - Set of all pending transaction ids
//   - qchain:tx:chain:{chainKey}:pending - Set of pending transaction ids per network
//   - qchain:tx:created_at - Sorted set of transaction ids by creation time
//
// SessionStore stores the keys written by the session manager as-is, by
// default qchain:session:{family}.
//
// # Status Ordering
//
// Journal statuses only move forward: submitted, then unknown, then failed or
// confirmed. A late write of a less final status is ignored.
//
// # Recovery
//
// On application restart, call Engine.RecoverPending to re-poll every
// transaction whose final state is still unknown.
//
// # Cleanup
//
// Use TxStore.DeleteOlderThan to periodically remove old settled records:
//
//	deleted, err := txStore.DeleteOlderThan(ctx, 24*time.Hour)
//
// # Supported Redis Configurations
//
// All stores work with standalone Redis, Sentinel and Cluster. Pass the
// appropriate redis.UniversalClient implementation to the constructors.
package redis
