// Package credentials retrieves TURN credentials from a TURN REST endpoint and
// caches them per endpoint URL.
//
// A Cache hands out *Result values. Once a URL holds unexpired credentials,
// callers arriving while a refetch for it is outstanding receive the same
// Result, so a burst of lookups produces a single request. Credentials are
// reused until shortly before the server-reported ttl elapses. A failed fetch,
// an explicit force refresh or expiry starts a new one. Before the first
// successful fetch there is no expiry to honour, so each lookup fetches.
//
// The per-entry settled/healthy flags are cleared after every lookup, and
// only a fetch completion sets them again. A failure therefore triggers a
// refetch on the first lookup after it completes, but never on a lookup that
// follows another lookup made after the failure.
package credentials
