package validate

import (
	"testing"

	"github.com/go-trustgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginBody struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password,omitempty" validate:"required"`
	IP       string `json:"-"`
}

func TestStruct_Valid(t *testing.T) {
	assert.NoError(t, Struct(&loginBody{Email: "a@example.com", Password: "x"}))
}

func TestStruct_NamesJSONKeys(t *testing.T) {
	err := Struct(&loginBody{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	assert.Equal(t, "email is required; password is required", Message(err))
}

func TestStruct_InvalidEmail(t *testing.T) {
	err := Struct(&loginBody{Email: "nope", Password: "x"})

	require.ErrorIs(t, err, domain.ErrBadRequest)
	assert.Equal(t, "email must be a valid email address", Message(err))
}
