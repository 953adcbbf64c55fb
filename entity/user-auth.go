package entity

import (
	"ShopChat/internal/lib/validate"
	"net/http"
)

// UserAuth identifies a surface that attached to the local bridge.
type UserAuth struct {
	Username string `json:"username" validate:"required"`
	Token    string `json:"token" validate:"required,min=1"`
}

func (u *UserAuth) Bind(_ *http.Request) error {
	return validate.Struct(u)
}
