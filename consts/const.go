package consts

// 通用错误码
const (
	CodeSuccess = 0 // 成功
)

// 客户端错误 (1xxxx)
const (
	CodeParamError       = 10001 // 参数验证失败
	CodeBodyError        = 10002 // 消息帧格式错误
	CodeResourceNotFound = 10003 // 资源不存在
	CodeTooManyRequests  = 10005 // 发送过于频繁
	CodeBodyTooLarge     = 10006 // 消息体过大
)

// 认证错误 (2xxxx)
const (
	CodeUnauthorized   = 20001 // 未认证
	CodeInvalidToken   = 20002 // Token 无效
	CodeTokenExpired   = 20003 // Token 已过期
	CodePermissionDeny = 20004 // 权限不足
)

// 用户模块错误 (11xxx)
const (
	CodeUserNotFound = 11001 // 用户不存在
	CodeUserExists   = 11002 // 用户已存在
)

// 关系模块错误 (12xxx)
const (
	CodeAlreadyFriend     = 12001 // 已经是好友
	CodeFriendRequestSent = 12002 // 好友申请已发送
	CodeNotFriend         = 12003 // 不存在该好友关系
	CodeBlocked           = 12004 // 存在拉黑关系
	CodeInvalidTransition = 12005 // 关系状态变更不合法
	CodeRequestSelf       = 12006 // 不能对自己发起操作
)

// 消息模块错误 (13xxx)
const (
	CodeMessageNotFound    = 13001 // 消息不存在
	CodeMessageSendFail    = 13002 // 消息发送失败
	CodeMessageNotAllowed  = 13003 // 无权向目标发送消息
	CodeAttachmentTooLarge = 13004 // 附件超过大小限制
	CodeAttachmentBadType  = 13005 // 附件类型不允许
)

// 群组模块错误 (14xxx)
const (
	CodeGroupNotFound  = 14001 // 群组不存在
	CodeNotGroupMember = 14002 // 不是群成员
	CodeNoPermission   = 14003 // 没有权限
	CodeGroupFull      = 14004 // 群成员已满
)

// 服务端错误 (3xxxx)
const (
	CodeInternalError      = 30001 // 服务器内部错误
	CodeServiceUnavailable = 30002 // 服务暂不可用
	CodeStorageFailure     = 30003 // 持久化失败，可携带原 nonce 重试
	CodeBrokerFailure      = 30004 // 投递通道异常，消息已持久化待补发
)

// 错误消息映射
var CodeMessage = map[int32]string{
	CodeSuccess: "success",

	// 客户端错误
	CodeParamError:       "参数验证失败",
	CodeBodyError:        "消息帧格式错误",
	CodeResourceNotFound: "资源不存在",
	CodeTooManyRequests:  "发送过于频繁",
	CodeBodyTooLarge:     "消息体过大",

	// 认证错误
	CodeUnauthorized:   "未认证",
	CodeInvalidToken:   "Token 无效",
	CodeTokenExpired:   "Token 已过期",
	CodePermissionDeny: "权限不足",

	// 用户模块
	CodeUserNotFound: "用户不存在",
	CodeUserExists:   "用户已存在",

	// 关系模块
	CodeAlreadyFriend:     "已经是好友",
	CodeFriendRequestSent: "好友申请已发送",
	CodeNotFriend:         "不存在该好友关系",
	CodeBlocked:           "存在拉黑关系",
	CodeInvalidTransition: "关系状态变更不合法",
	CodeRequestSelf:       "不能对自己发起操作",

	// 消息模块
	CodeMessageNotFound:    "消息不存在",
	CodeMessageSendFail:    "消息发送失败",
	CodeMessageNotAllowed:  "无权向目标发送消息",
	CodeAttachmentTooLarge: "附件超过大小限制",
	CodeAttachmentBadType:  "附件类型不允许",

	// 群组模块
	CodeGroupNotFound:  "群组不存在",
	CodeNotGroupMember: "不是群成员",
	CodeNoPermission:   "没有权限",
	CodeGroupFull:      "群成员已满",

	// 服务端错误
	CodeInternalError:      "服务器内部错误",
	CodeServiceUnavailable: "服务暂不可用",
	CodeStorageFailure:     "持久化失败",
	CodeBrokerFailure:      "投递通道异常",
}

// GetMessage 根据错误码获取错误消息
func GetMessage(code int32) string {
	if msg, ok := CodeMessage[code]; ok {
		return msg
	}
	return "未知错误"
}

// ==================== 错误类别（对应 ws error 帧的 error_kind） ====================

const (
	ErrorKindValidation        = "validation_error"   // 参数/附件校验失败，客户端修正后重发
	ErrorKindNotAuthorized     = "not_authorized"     // 关系不允许投递，不可重试
	ErrorKindInvalidTransition = "invalid_transition" // 好友状态机非法变更
	ErrorKindStorageFailure    = "storage_failure"    // 持久化失败，可用同 nonce 重试
	ErrorKindBrokerFailure     = "broker_failure"     // 投递通道异常，等待补发
)
