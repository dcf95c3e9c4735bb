package messaging

import (
	"fmt"
	"strings"
)

// Placeholders used when a request has no upload link yet.
const (
	smsLinkPlaceholder   = "[link]"
	emailLinkPlaceholder = "[link not available]"
)

// EmailContent is a rendered email.
type EmailContent struct {
	Subject string
	Body    string
}

// FirstName returns the first word of a client name, or "there" when the
// name is blank so greetings still read naturally.
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

// ClientRequestSMS asks the client to upload a document.
func ClientRequestSMS(clientName, documentType, link string) string {
	first := FirstName(clientName)
	if link == "" {
		return fmt.Sprintf("Hi %s! Your broker needs your %s. Check your email for the upload link.", first, documentType)
	}
	return fmt.Sprintf("Hi %s! Please upload your %s: %s", first, documentType, link)
}

// ClientRequestEmail is the email counterpart of ClientRequestSMS.
func ClientRequestEmail(clientName, documentType, link string) EmailContent {
	return EmailContent{
		Subject: "Action Needed: " + documentType,
		Body: fmt.Sprintf(`Hi %s,

Hope you're doing well! Your insurance broker needs a quick document from you.

Document needed: %s

Uploading is easy - just click the link below:
%s

This only takes a minute and helps us get your coverage sorted faster.

Thanks so much!
Your Insurance Team`, FirstName(clientName), documentType, orDefault(link, emailLinkPlaceholder)),
	}
}

// BrokerCompletionSMS tells the broker a client uploaded a document.
func BrokerCompletionSMS(clientName, documentType string) string {
	return fmt.Sprintf("Document uploaded! %s submitted their %s.", clientName, documentType)
}

// BrokerCompletionEmail is the email counterpart of BrokerCompletionSMS.
func BrokerCompletionEmail(clientName, documentType, trackerURL string) EmailContent {
	return EmailContent{
		Subject: fmt.Sprintf("Document Received: %s from %s", documentType, clientName),
		Body: fmt.Sprintf(`%s has uploaded their %s.

View all requests: %s

- Smart Doc Chaser`, clientName, documentType, trackerURL),
	}
}

// ReminderSMS nudges a client about an outstanding document.
func ReminderSMS(clientName, documentType, link string, urgent bool) string {
	first := FirstName(clientName)
	link = orDefault(link, smsLinkPlaceholder)
	if urgent {
		return fmt.Sprintf("Hi %s! Quick reminder - we still need your %s soon. Upload here: %s", first, documentType, link)
	}
	return fmt.Sprintf("Hi %s! Friendly reminder - we still need your %s. Upload here: %s", first, documentType, link)
}

// ReminderEmail is the email counterpart of ReminderSMS.
func ReminderEmail(clientName, documentType, link string, urgent bool) EmailContent {
	prefix := "Friendly Reminder: "
	opener := "Hope you're having a great day! Just a friendly nudge."
	if urgent {
		prefix = "Time Sensitive: "
		opener = "Just a quick heads up - the deadline for your document is coming up soon!"
	}
	return EmailContent{
		Subject: prefix + documentType + " still needed",
		Body: fmt.Sprintf(`Hi %s,

%s

We still need your %s to move forward with your coverage.

Click here to upload (takes less than a minute):
%s

If you have any questions, just reply to this email.

Thanks!
Your Insurance Team`, FirstName(clientName), opener, documentType, orDefault(link, emailLinkPlaceholder)),
	}
}

// ExpirySMS tells the broker a request passed its deadline.
func ExpirySMS(clientName, documentType string) string {
	return fmt.Sprintf("Request expired: %s's %s was not uploaded by deadline.", clientName, documentType)
}

// ExpiryEmail is the email counterpart of ExpirySMS.
func ExpiryEmail(clientName, documentType string) EmailContent {
	return EmailContent{
		Subject: "Request Expired: " + documentType,
		Body:    fmt.Sprintf("%s's %s request has expired. The deadline has passed.", clientName, documentType),
	}
}

// Diagnostic messages sent by the gateway test endpoint.
const (
	TestSMSBody      = "Test message from Smart Doc Chaser. If you received this, messaging is working!"
	TestEmailSubject = "Test Email from Smart Doc Chaser"
	TestEmailBody    = "This is a test email. If you received this, email delivery is working!"
)
