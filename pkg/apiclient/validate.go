package apiclient

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	minPasswordLength = 8
	maxContentLength  = 5000
)

// ValidateEmail checks the address shape before it is submitted.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &ValidationError{Field: "email", Message: "email is required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Message: "enter a valid email address"}
	}
	return nil
}

// ValidateCredentials checks the login form.
func ValidateCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return &ValidationError{Field: "username", Message: "email is required"}
	}
	if password == "" {
		return &ValidationError{Field: "password", Message: "password is required"}
	}
	return nil
}

// ValidateNewPassword checks a password being set and its confirmation.
func ValidateNewPassword(password, confirm string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return &ValidationError{Field: "password", Message: "password must be at least 8 characters"}
	}
	if password != confirm {
		return &ValidationError{Field: "confirm_password", Message: "passwords do not match"}
	}
	return nil
}

// ValidateContent checks post, comment and chat text.
func ValidateContent(field, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return &ValidationError{Field: field, Message: "content cannot be empty"}
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return &ValidationError{Field: field, Message: "content is too long"}
	}
	return nil
}

// Validate checks the registration form.
func (r RegisterRequest) Validate() error {
	if strings.TrimSpace(r.FirstName) == "" {
		return &ValidationError{Field: "first_name", Message: "first name is required"}
	}
	if strings.TrimSpace(r.LastName) == "" {
		return &ValidationError{Field: "last_name", Message: "last name is required"}
	}
	if err := ValidateEmail(r.Email); err != nil {
		return err
	}
	if r.UserType != "" && !r.UserType.Valid() {
		return &ValidationError{Field: "user_type", Message: "unknown account type"}
	}
	return ValidateNewPassword(r.Password, r.ConfirmPassword)
}
