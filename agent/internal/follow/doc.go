// Package follow tails the detector's JSON-lines output and turns each line
// into a types.Detection.
//
// The Follower watches the file's directory with fsnotify and falls back to
// polling. It only consumes complete lines; a trailing partial line waits for
// its newline. When the file shrinks (truncation or rotation) the read offset
// resets to zero.
//
// Rules decide what is kept: lines below the confidence floor are dropped,
// and a line without its own violation flag is a violation when its class is
// restricted. Rules can be swapped at runtime with SetRules.
package follow
