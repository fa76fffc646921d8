package svc

import (
	"context"

	"ChatCore/apps/chat/internal/relation"
	"ChatCore/apps/chat/internal/repository"
	"ChatCore/consts"
	"ChatCore/model"
)

// AuthorizationGate 对每条消息做投递权限裁决。
// 关系状态每条消息实时读取，不做缓存：拉黑要即刻生效，
// 陈旧的放行比一次多余的查询代价大得多。
type AuthorizationGate struct {
	relationRepo repository.IRelationRepository
	groupRepo    repository.IGroupRepository
}

// NewAuthorizationGate 创建裁决器实例。
func NewAuthorizationGate(relationRepo repository.IRelationRepository, groupRepo repository.IGroupRepository) *AuthorizationGate {
	return &AuthorizationGate{relationRepo: relationRepo, groupRepo: groupRepo}
}

// Authorize 裁决一条消息并返回允许投递的收件人集合。
// 规则：
//   - 单聊：双方必须是已接受的好友，且双向均无拉黑；
//   - 群聊：发送方必须是群成员；与发送方存在拉黑关系（任一方向）的
//     成员被静默剔除，消息对群内其余成员照常投递；
//   - 拒绝返回 not_authorized 类错误，拉黑细节不向发送方泄露方向。
func (g *AuthorizationGate) Authorize(ctx context.Context, senderUUID string, msg *model.Message) ([]string, *ChatError) {
	switch msg.TargetKind {
	case model.TargetKindUser:
		return g.authorizeDirect(ctx, senderUUID, msg.TargetUuid)
	case model.TargetKindGroup:
		return g.authorizeGroup(ctx, senderUUID, msg.GroupId)
	default:
		return nil, validationError(consts.CodeParamError)
	}
}

func (g *AuthorizationGate) authorizeDirect(ctx context.Context, senderUUID, targetUUID string) ([]string, *ChatError) {
	if senderUUID == targetUUID {
		return nil, validationError(consts.CodeRequestSelf)
	}

	rel, err := g.relationRepo.GetRelationship(ctx, senderUUID, targetUUID)
	if err != nil {
		return nil, storageFailureError(err)
	}

	if rel.Blocked() {
		return nil, notAuthorizedError(consts.CodeBlocked)
	}
	if rel.Edge != relation.EdgeAccepted {
		return nil, notAuthorizedError(consts.CodeMessageNotAllowed)
	}

	return []string{targetUUID}, nil
}

func (g *AuthorizationGate) authorizeGroup(ctx context.Context, senderUUID string, groupID int64) ([]string, *ChatError) {
	isMember, err := g.groupRepo.IsMember(ctx, groupID, senderUUID)
	if err != nil {
		return nil, storageFailureError(err)
	}
	if !isMember {
		return nil, notAuthorizedError(consts.CodeNotGroupMember)
	}

	members, err := g.groupRepo.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, storageFailureError(err)
	}

	recipients := make([]string, 0, len(members))
	for _, member := range members {
		if member == senderUUID {
			continue
		}
		// 拉黑判定直读 DB，双向剔除
		blocked, err := g.relationRepo.IsBlocked(ctx, senderUUID, member)
		if err != nil {
			return nil, storageFailureError(err)
		}
		if blocked {
			continue
		}
		recipients = append(recipients, member)
	}

	return recipients, nil
}
