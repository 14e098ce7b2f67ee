// Package archive defines the domain model shared by the ingestion and rating
// pipelines: accounts, posts, media, rating pairs and the collaborator
// interfaces (feed sources, fetchers, hashers) those pipelines depend on.
//
// The package is intentionally free of storage and transport code so that the
// crawl engine, the relocation engine and the front ends can agree on a single
// vocabulary without importing each other.
package archive
