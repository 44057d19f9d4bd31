// Package vectorstore stores chat chunks and their embeddings behind one
// Backend interface, with one implementation per storage strategy.
//
// # Backends
//
//   - PassthroughBackend forwards every call to an existing vectors API
//     that keeps a physical collection per tenant.
//   - FilteredStore keeps every tenant in one embedded chromem-go
//     collection and scopes each call with a metadata filter.
//   - PayloadIndexedStore keeps every tenant in one Qdrant collection
//     with keyword payload indexes on the tenant fields.
//
// Each chunk in a shared store carries its tenant (type, sourceId) and
// embedding source. Reads and deletes always filter on all three, so a
// query for one tenant never returns another tenant's chunks and vectors
// from different embedding models never mix.
//
// # Registry
//
// A process has one active backend, owned by a Registry:
//
//	reg := vectorstore.NewRegistry(cfg, embedder, logger)
//	defer reg.Close()
//
//	backend, err := reg.Backend(ctx)
//	if err != nil {
//	    return err
//	}
//	hashes, err := backend.SavedHashes(ctx, collection.ChatKey(chatID))
//
// Registry.Switch activates a new configuration only after its backend
// initializes and passes a health check.
//
// # Errors
//
// Operations wrap one of the package sentinels (ErrInsert, ErrQuery,
// ErrDelete, ErrDimensionMismatch and so on); test with errors.Is.
// QueryMany never fails as a whole: a tenant whose query fails maps to
// an empty result list.
package vectorstore
