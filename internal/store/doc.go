// Package store persists creators, accounts, posts and media in an embedded
// SQLite database running in write-ahead-log mode.
//
// Reads go straight to the shared *sql.DB and may run concurrently with the
// writer. Mutations must be executed through the write serializer, which hands
// each unit a *sql.Tx; wrap it with New to get the same query surface bound to
// the transaction.
package store
