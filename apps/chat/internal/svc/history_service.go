package svc

import (
	"context"

	"ChatCore/apps/chat/internal/repository"
	"ChatCore/consts"
	"ChatCore/model"
)

const (
	defaultHistoryPageSize = 20
	maxHistoryPageSize     = 100
)

// historyServiceImpl 历史消息查询服务实现。
// 单聊历史按参与双方过滤，调用方天然是参与者；
// 群聊历史要求调用方是群成员，非成员一律拒绝。
// 分页用消息 id 做游标：id 全局递增，倒序翻页不受新消息插入影响。
type historyServiceImpl struct {
	msgRepo   repository.IMessageRepository
	groupRepo repository.IGroupRepository
	userRepo  repository.IUserRepository
}

// HistoryService 历史消息服务契约。
type HistoryService interface {
	// DirectHistory 返回调用方与 peer 之间的单聊历史
	DirectHistory(ctx context.Context, callerUUID, peerUUID string, beforeID int64, limit int) ([]*DeliverMessageData, bool, *ChatError)
	// GroupHistory 返回群聊历史，仅群成员可查
	GroupHistory(ctx context.Context, callerUUID string, groupID int64, beforeID int64, limit int) ([]*DeliverMessageData, bool, *ChatError)
}

// NewHistoryService 创建历史消息服务实例
func NewHistoryService(
	msgRepo repository.IMessageRepository,
	groupRepo repository.IGroupRepository,
	userRepo repository.IUserRepository,
) HistoryService {
	return &historyServiceImpl{
		msgRepo:   msgRepo,
		groupRepo: groupRepo,
		userRepo:  userRepo,
	}
}

// DirectHistory 返回调用方与 peer 之间的单聊历史，新消息在前。
func (s *historyServiceImpl) DirectHistory(ctx context.Context, callerUUID, peerUUID string, beforeID int64, limit int) ([]*DeliverMessageData, bool, *ChatError) {
	if peerUUID == "" || peerUUID == callerUUID {
		return nil, false, validationError(consts.CodeParamError)
	}

	rows, hasMore, err := s.msgRepo.ListDirectMessages(ctx, callerUUID, peerUUID, beforeID, clampPageSize(limit))
	if err != nil {
		return nil, false, storageFailureError(err)
	}
	return s.render(ctx, rows), hasMore, nil
}

// GroupHistory 返回群聊历史，仅群成员可查。
func (s *historyServiceImpl) GroupHistory(ctx context.Context, callerUUID string, groupID int64, beforeID int64, limit int) ([]*DeliverMessageData, bool, *ChatError) {
	isMember, err := s.groupRepo.IsMember(ctx, groupID, callerUUID)
	if err != nil {
		return nil, false, storageFailureError(err)
	}
	if !isMember {
		return nil, false, notAuthorizedError(consts.CodeNotGroupMember)
	}

	rows, hasMore, err := s.msgRepo.ListGroupMessages(ctx, groupID, beforeID, clampPageSize(limit))
	if err != nil {
		return nil, false, storageFailureError(err)
	}
	return s.render(ctx, rows), hasMore, nil
}

// render 将存储行转为下行帧体的形状，客户端历史页和实时推送共用同一 DTO。
// 发送方展示信息查不到不阻断返回。
func (s *historyServiceImpl) render(ctx context.Context, rows []*model.Message) []*DeliverMessageData {
	out := make([]*DeliverMessageData, 0, len(rows))
	nicknames := make(map[string]string)
	for _, msg := range rows {
		item := &DeliverMessageData{
			MessageId:  msg.Id,
			SenderUuid: msg.SenderUuid,
			TargetKind: msg.TargetKind,
			GroupId:    msg.GroupId,
			Body:       msg.Body,
			SentAt:     msg.CreatedAt,
		}
		if msg.AttachmentUrl != "" {
			item.Attachment = &AttachmentData{
				Url:  msg.AttachmentUrl,
				Size: msg.AttachmentSize,
				Mime: msg.AttachmentMime,
			}
		}

		if s.userRepo != nil {
			name, ok := nicknames[msg.SenderUuid]
			if !ok {
				if sender, err := s.userRepo.GetByUUID(ctx, msg.SenderUuid); err == nil {
					name = sender.Nickname
				}
				nicknames[msg.SenderUuid] = name
			}
			item.SenderName = name
		}

		out = append(out, item)
	}
	return out
}

// clampPageSize 将页大小收敛到允许区间。
func clampPageSize(limit int) int {
	if limit <= 0 {
		return defaultHistoryPageSize
	}
	if limit > maxHistoryPageSize {
		return maxHistoryPageSize
	}
	return limit
}
