package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gent/models"
)

func TestPostgresConnString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/gent", "postgres://u:p@localhost:5432/gent?sslmode=disable"},
		{"postgres://u:p@localhost/gent?connect_timeout=5", "postgres://u:p@localhost/gent?connect_timeout=5&sslmode=disable"},
		{"postgres://u:p@db/gent?sslmode=require", "postgres://u:p@db/gent?sslmode=require"},
		{"host=localhost dbname=gent", "host=localhost dbname=gent sslmode=disable"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, postgresConnString(tt.in))
	}
}

func TestValidateSubmission(t *testing.T) {
	ok := models.Submission{Name: "Weraprat", Email: "weraprat@gent-s.com", Rating: "5", Feedback: "ดีมากครับ"}
	assert.NoError(t, ValidateSubmission(ok))

	bad := []models.Submission{
		{Name: " ", Email: ok.Email, Rating: "5"},
		{Name: "A", Email: "not-an-email", Rating: "5"},
		{Name: "A", Email: ok.Email, Rating: "0"},
		{Name: "A", Email: ok.Email, Rating: "great"},
	}
	for _, sub := range bad {
		assert.ErrorIs(t, ValidateSubmission(sub), ErrInvalidSubmission)
	}
}
