// Package storage provides the key-value blob store that backs every cache
// index in the offline core. Consumers serialize whole indices as JSON under
// fixed keys; the store itself is byte-level and knows nothing about shapes.
package storage
