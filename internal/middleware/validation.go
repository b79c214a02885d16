package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"

	"github.com/google/uuid"
)

var partNumberPattern = regexp.MustCompile(`^(?i)(PS\d{7,8}|W\d{8}|AP\d{7,8})$`)

// ValidateMessageContent validates a chat message body.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("message cannot be empty")
	}
	if len(content) > 4096 {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidatePartNumber validates a catalog part number.
func ValidatePartNumber(partNumber string) error {
	if !partNumberPattern.MatchString(partNumber) {
		return errors.New("invalid part number format")
	}
	return nil
}
