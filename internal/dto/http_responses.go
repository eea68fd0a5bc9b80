package dto

import (
	"github.com/wb-go/wbf/ginext"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	CodeAlreadyExists = "CODE_ALREADY_EXISTS"
	LinkNotFound      = "LINK_NOT_FOUND"
)

type Response struct {
	Status string      `json:"status"`
	Error  *Error      `json:"error,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func BadResponseError(c *ginext.Context, code, desc string) {
	c.JSON(400, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func InternalServerError(c *ginext.Context) {
	c.JSON(500, Response{
		Status: "error",
		Error: &Error{
			Code: ServiceUnavailable,
			Desc: InternalError,
		},
	})
}

func FieldBadFormatError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldBadFormat, "Field '"+fieldName+"' has bad format")
}

func FieldIncorrectError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldIncorrect, "Field '"+fieldName+"' is incorrect")
}

func CodeAlreadyExistsError(c *ginext.Context) {
	BadResponseError(c, CodeAlreadyExists, "Short code already exists")
}

func LinkNotFoundError(c *ginext.Context) {
	c.JSON(404, Response{
		Status: "error",
		Error: &Error{
			Code: LinkNotFound,
			Desc: "Short link not found",
		},
	})
}

func SuccessResponse(c *ginext.Context, data interface{}) {
	c.JSON(200, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data interface{}) {
	c.JSON(201, Response{
		Status: "ok",
		Data:   data,
	})
}
