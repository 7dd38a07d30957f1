package domain

// Message is one rendered outbound notification.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}
