// Package reports builds the periodic and compliance reports, saves them as
// JSON under the reports directory, renders them as HTML email bodies, and
// delivers them through the mailer.
//
// Service generates. Dispatcher turns a Request into a generated report, chart
// and CSV attachments, and one email per recipient. The scheduler and the
// REST handlers both go through Dispatcher.
package reports
