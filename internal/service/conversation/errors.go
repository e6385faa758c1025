package conversation

import (
	"errors"

	"github.com/zhouzirui/startup-chat/client/internal/service/transport"
)

var (
	ErrEmptyMessage   = errors.New("message text is required")
	ErrSessionIDEmpty = errors.New("session id is required")
)

// Category is the user-facing class of a failure.
type Category string

const (
	CategoryNetworkUnreachable Category = "network_unreachable"
	CategoryClientRequest      Category = "client_request_error"
	CategoryServerProcessing   Category = "server_processing_error"
	// CategoryMalformedLocalState is recovered where it happens and never
	// shown to the user.
	CategoryMalformedLocalState Category = "malformed_local_state"
	CategoryUnknown             Category = "unknown"
)

// Classify maps a failed turn onto a Category.
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var te *transport.TransportError
	if !errors.As(err, &te) {
		return CategoryUnknown
	}
	switch te.Kind {
	case transport.KindNetworkUnreachable:
		return CategoryNetworkUnreachable
	case transport.KindClientRequest:
		return CategoryClientRequest
	case transport.KindServerProcessing:
		return CategoryServerProcessing
	default:
		return CategoryUnknown
	}
}

// Texts holds the reply shown for each failure category.
type Texts map[Category]string

// DefaultTexts are the Marathi replies the assistant UI shows on failure.
func DefaultTexts() Texts {
	return Texts{
		CategoryNetworkUnreachable: "इंटरनेट कनेक्शन तपासा आणि पुन्हा प्रयत्न करा.",
		CategoryClientRequest:      "अयोग्य इनपुट. कृपया पुन्हा प्रयत्न करा.",
		CategoryServerProcessing:   "सर्वर समस्या. काही वेळानंतर पुन्हा प्रयत्न करा.",
		CategoryUnknown:            "माफ करा, सर्वरशी कनेक्शन करताना समस्या आली. कृपया पुन्हा प्रयत्न करा.",
	}
}

// For returns the text for category, falling back to the unknown text.
func (t Texts) For(category Category) string {
	if text, ok := t[category]; ok && text != "" {
		return text
	}
	return t[CategoryUnknown]
}
