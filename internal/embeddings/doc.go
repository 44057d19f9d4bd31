// Package embeddings provides embedding generation via multiple providers.
//
// Supports FastEmbed (local ONNX, cgo builds only), TEI (external service)
// and OpenAI-compatible APIs through langchaingo. NewProvider selects the
// provider at runtime, detects the dimension for common models and can
// wrap the result in a ristretto-backed CachedEmbedder.
package embeddings
