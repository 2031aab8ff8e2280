// Package client implements the chat client: the access-token lifecycle
// (SessionStore), the streaming consumer with cooperative cancellation
// (Consumer), and local conversation persistence (ConversationStore).
//
// The client is single-threaded cooperative in spirit: all transcript
// mutations happen in reaction to I/O completions, cancellation is a
// signal observed at chunk-read boundaries, and starting a new submission
// always supersedes any still-running stream for the conversation.
package client
