// Package whale defines the domain types, collaborator interfaces, error
// taxonomy, and retry primitive shared by the whale-alert ingestion
// pipeline: listener, queue, workers, parser, fingerprint resolver, and
// persistence gateway.
package whale
