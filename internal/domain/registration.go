package domain

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// EventGreetings is the queue the registration API publishes to.
const EventGreetings = "greetings"

// ErrInvalidRegistration is returned when a registration misses a required field.
var ErrInvalidRegistration = errors.New("username, password and email are required")

// Registration is the payload of the greetings event. It travels msgpack-encoded on
// the queue and JSON-encoded on the HTTP side.
//
// Password is carried in clear text; it must never be logged or persisted.
type Registration struct {
	Username string `json:"username" msgpack:"username"`
	Password string `json:"password" msgpack:"password"`
	Email    string `json:"email" msgpack:"email"`
}

// Validate checks that every field is present.
func (r Registration) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.Email, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRegistration, err)
	}
	return nil
}
