package models

import "time"

// Submission はフィードバックフォームの送信内容
type Submission struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Rating    string    `json:"rating"`
	Feedback  string    `json:"feedback"`
	Timestamp time.Time `json:"timestamp"`
}

// Document is a file fetched from the document service.
type Document struct {
	Name     string
	MimeType string
	Data     []byte
}
