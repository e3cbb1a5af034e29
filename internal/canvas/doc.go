// Package canvas defines the conversation-canvas domain model and its
// SQLite-backed store.
//
// A Canvas is a named workspace containing a tree of chat nodes. Nodes
// form a forest linked by parent ids; attachments belong to exactly one
// node. The Store is the authoritative persistence layer — tree-shaped
// views over a canvas's node set are derived by the tree package.
//
// Thread safety: Store is safe for concurrent use (database/sql pools
// connections). Logical write ordering for a single node during
// streaming is the caller's responsibility.
package canvas
