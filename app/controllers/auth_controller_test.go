package controllers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     registerRequest
		wantErr bool
	}{
		{
			name:    "empty request",
			req:     registerRequest{},
			wantErr: true,
		},
		{
			name:    "name too short",
			req:     registerRequest{Name: "ab", Email: "a@b.dev", Password: "secret1"},
			wantErr: true,
		},
		{
			name:    "bad email",
			req:     registerRequest{Name: "Alice", Email: "nope", Password: "secret1"},
			wantErr: true,
		},
		{
			name:    "password too short",
			req:     registerRequest{Name: "Alice", Email: "a@b.dev", Password: "short"},
			wantErr: true,
		},
		{
			name: "valid request",
			req:  registerRequest{Name: "Alice", Email: "a@b.dev", Password: "secret1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(&tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
