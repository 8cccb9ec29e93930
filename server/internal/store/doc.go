// Package store keeps the parsed detection log in memory.
//
// The cache follows the log file: Refresh reads only the bytes appended since
// the last read and resets itself when the file shrinks or is replaced. Writes
// made through Append and rows appended by external writers both reach the
// OnNew listeners exactly once.
package store
