package svc

import (
	"ChatCore/consts"
)

// ChatError 路由过程中的类别化错误。
// Kind 对应 error 帧的 error_kind，Code/Message 对应错误码表；
// 每个被拒绝或失败的发送都会转成一条带原 client_nonce 的 error 帧。
type ChatError struct {
	Kind    string
	Code    int
	Message string
	cause   error
}

func (e *ChatError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *ChatError) Unwrap() error {
	return e.cause
}

// newChatError 按错误码构造，文案取自错误码表。
func newChatError(kind string, code int, cause error) *ChatError {
	return &ChatError{
		Kind:    kind,
		Code:    code,
		Message: consts.GetMessage(int32(code)),
		cause:   cause,
	}
}

func validationError(code int) *ChatError {
	return newChatError(consts.ErrorKindValidation, code, nil)
}

func notAuthorizedError(code int) *ChatError {
	return newChatError(consts.ErrorKindNotAuthorized, code, nil)
}

func invalidTransitionError(cause error) *ChatError {
	return newChatError(consts.ErrorKindInvalidTransition, consts.CodeInvalidTransition, cause)
}

func storageFailureError(cause error) *ChatError {
	return newChatError(consts.ErrorKindStorageFailure, consts.CodeStorageFailure, cause)
}

func brokerFailureError(cause error) *ChatError {
	return newChatError(consts.ErrorKindBrokerFailure, consts.CodeBrokerFailure, cause)
}
