// Package cache tracks, per artifact, what has been fetched from remote RPKI
// repositories, when, and with what result. It keeps one in-memory tree of
// nodes per fetch protocol (rsync mirrors whole subtrees, HTTPS fetches one
// file at a time) mirroring the on-disk repository layout, persists the trees
// to a metadata.json snapshot between runs, decides whether a URI is fresh
// enough to skip its transfer, and reconciles the trees against the live
// filesystem at the end of each validation run, pruning both to mutual
// agreement. The snapshot is a cache of a cache: every parse failure is
// recoverable and at worst costs redundant downloads, never correctness.
package cache
