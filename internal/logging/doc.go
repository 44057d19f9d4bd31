// Package logging is recalld's zap setup.
//
// Every level method takes a context and adds the correlation fields found
// in it: the active span, the host chat id, the collection id and the
// operation. Sync and retrieval put those on the context once, so each log
// line about one chat can be grepped together:
//
//	ctx = logging.WithChatID(ctx, chatID)
//	ctx = logging.WithCollectionID(ctx, collection.Encode(key))
//	logger.Info(ctx, "synchronization batch done", zap.Int("inserted", n))
//
// Entries go to stdout, to output.file, and to the OpenTelemetry log
// bridge when telemetry is enabled. Stdout and file output pass through
// RedactingEncoder, which hides credential fields such as
// backend.qdrant.api_key and bearer or sk- tokens inside values. Logging
// a config.Secret through Secret hides it from every sink.
//
// Sampling is per level and keyed on the message. Error and above are
// never sampled.
package logging
