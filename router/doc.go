// Package router implements the router-side core of the cache-aware request
// router: the block-fingerprint utility, the GlobalCacheMap (forward index,
// reverse index, and prefix trie over worker cache state), and the
// RoutingEngine that selects a worker for an incoming request.
//
// # Reading Guide
//
//   - fingerprint.go: tokenize + block-hash computation shared by router and worker.
//   - trie.go: the prefix-tree node type used by GlobalCacheMap for longest-prefix-match.
//   - cachemap.go: GlobalCacheMap, the concurrent router-side cache index.
//   - engine.go: RoutingEngine and the three routing strategies.
//   - errors.go: typed errors surfaced across the router/worker boundary.
//   - config.go: RouterConfig and YAML overlay loading.
//
// The worker-side cache simulator lives in sibling package
// github.com/statefulrouter/statefulrouter/worker; the HTTP transport lives in
// github.com/statefulrouter/statefulrouter/rpc.
package router
