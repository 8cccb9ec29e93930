// Package mailer sends report and violation emails over SMTP with go-mail.
//
// Every operation returns a Result rather than an error so that handlers can
// pass the outcome straight to the client. A disabled mailer answers with
// status "disabled" and never dials.
package mailer
