// Package integration contains the commerce migration bounded context.
// It describes the entities moved between a source and a target commerce
// platform and the ports the synchronization pipeline talks to.
//
// Key concepts:
//   - EntityType: the closed set of migratable entities and their dependency order
//   - Extractor: port for paginated reads from the source platform
//   - Loader: port for idempotent upserts into the target platform
//   - MediaUploader: port for re-hosting product images
//   - EntityLocker: port serializing runs of the same entity
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
