// Package users stores dashboard accounts, login sessions and the user
// activity log in a SQLite database (modernc.org/sqlite, no cgo).
//
// Passwords are bcrypt hashes. Session tokens are 32 random bytes, hex encoded.
// The activity log keeps the newest 1000 entries.
package users
