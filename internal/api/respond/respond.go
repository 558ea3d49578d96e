package respond

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Envelope 统一响应包装。
//
// 所有接口（包括错误分支）都返回这个形状，客户端只依赖它。
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Errors  []string    `json:"errors,omitempty"`
	Count   *int        `json:"count,omitempty"`
}

// OK 返回成功响应。
func OK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

// OKMessage 返回只带提示语的成功响应。
func OKMessage(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{Success: true, Message: message})
}

// List 返回带 count 的列表响应。
func List(c *gin.Context, data interface{}, count int) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data, Count: &count})
}

// Error 返回单条错误信息。
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{Success: false, Message: message})
}

// Internal 返回 500。
//
// 非 Release 模式下在提示语后附带底层错误，方便排查；线上只暴露
// 统一提示。
func Internal(c *gin.Context, message string, err error) {
	if gin.Mode() != gin.ReleaseMode && err != nil {
		message = message + ": " + err.Error()
	}
	Error(c, http.StatusInternalServerError, message)
}

// ValidationErrors 返回收集到的全部校验错误（400）。
func ValidationErrors(c *gin.Context, errs []string) {
	c.JSON(http.StatusBadRequest, Envelope{
		Success: false,
		Message: "validation failed",
		Errors:  errs,
	})
}

// BindError 将 ShouldBindJSON 的失败转换为响应。
//
// 校验错误逐条收集后一起返回；非法 JSON 等其他绑定错误返回统一提示。
func BindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fieldErrorMessage(fe))
		}
		ValidationErrors(c, msgs)
		return
	}
	Error(c, http.StatusBadRequest, "invalid request body")
}

func fieldErrorMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		if fe.Kind().String() == "string" {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind().String() == "string" {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "dive":
		return fmt.Sprintf("%s contains an invalid entry", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
