// Package buckets implements the REST rate-limit bucket manager.
//
// The server groups routes into rate-limit "buckets" identified by an opaque
// hash revealed in response headers. A bucket's quota is additionally
// partitioned by the route's major parameter (channel, guild, webhook), so
// the key for a live bucket is the bucket hash joined with the major-param
// hash. Routes that have never been hit get a placeholder bucket unique to
// the compiled route until the server reveals their real identity; the
// placeholder's queued callers are handed off to the real bucket at that
// point.
//
// The Manager is shared by every REST call site across all shards. It is
// passed by reference, never a package-level singleton, so multiple
// independent clients can coexist in one process.
package buckets
