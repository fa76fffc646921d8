package svc

import (
	"context"
	"errors"

	"ChatCore/apps/chat/internal/relation"
	"ChatCore/apps/chat/internal/repository"
	"ChatCore/consts"
)

// friendServiceImpl 好友关系服务实现。
// 流程固定：读当前关系快照 → 状态机裁决 → 按裁决结果落库 → 推送通知。
// 状态机不做 I/O，非法变更在落库前就被拒绝。
type friendServiceImpl struct {
	relationRepo repository.IRelationRepository
	userRepo     repository.IUserRepository
	notifier     *Notifier
}

// FriendService 好友关系服务契约。
// 所有操作都以 actor（发起方）视角执行，返回的错误可直接转 error 帧。
type FriendService interface {
	SendRequest(ctx context.Context, actorUUID, peerUUID string) *ChatError
	Accept(ctx context.Context, actorUUID, peerUUID string) *ChatError
	Reject(ctx context.Context, actorUUID, peerUUID string) *ChatError
	Cancel(ctx context.Context, actorUUID, peerUUID string) *ChatError
	Unfriend(ctx context.Context, actorUUID, peerUUID string) *ChatError
	Block(ctx context.Context, actorUUID, peerUUID string) *ChatError
	Unblock(ctx context.Context, actorUUID, peerUUID string) *ChatError
	// GetRelation 返回 actor 视角的关系契约值（查询，不走状态机）
	GetRelation(ctx context.Context, actorUUID, peerUUID string) (relation.ContractState, *ChatError)
}

// NewFriendService 创建好友服务实例
func NewFriendService(
	relationRepo repository.IRelationRepository,
	userRepo repository.IUserRepository,
	notifier *Notifier,
) FriendService {
	return &friendServiceImpl{
		relationRepo: relationRepo,
		userRepo:     userRepo,
		notifier:     notifier,
	}
}

// SendRequest 发起好友申请
func (s *friendServiceImpl) SendRequest(ctx context.Context, actorUUID, peerUUID string) *ChatError {
	return s.apply(ctx, actorUUID, peerUUID, relation.EventRequest, NotifyFriendRequest)
}

// Accept 接受对方的申请
func (s *friendServiceImpl) Accept(ctx context.Context, actorUUID, peerUUID string) *ChatError {
	return s.apply(ctx, actorUUID, peerUUID, relation.EventAccept, NotifyFriendAccept)
}

// Reject 拒绝对方的申请
func (s *friendServiceImpl) Reject(ctx context.Context, actorUUID, peerUUID string) *ChatError {
	// 拒绝不通知发起方，避免泄露被拒信息
	return s.apply(ctx, actorUUID, peerUUID, relation.EventReject, "")
}

// Cancel 撤回自己发出的申请
func (s *friendServiceImpl) Cancel(ctx context.Context, actorUUID, peerUUID string) *ChatError {
	return s.apply(ctx, actorUUID, peerUUID, relation.EventCancel, "")
}

// Unfriend 删除好友
func (s *friendServiceImpl) Unfriend(ctx context.Context, actorUUID, peerUUID string) *ChatError {
	return s.apply(ctx, actorUUID, peerUUID, relation.EventUnfriend, NotifyFriendRemove)
}

// Block 拉黑对方
func (s *friendServiceImpl) Block(ctx context.Context, actorUUID, peerUUID string) *ChatError {
	return s.apply(ctx, actorUUID, peerUUID, relation.EventBlock, "")
}

// Unblock 解除自己发起的拉黑
func (s *friendServiceImpl) Unblock(ctx context.Context, actorUUID, peerUUID string) *ChatError {
	return s.apply(ctx, actorUUID, peerUUID, relation.EventUnblock, "")
}

// GetRelation 返回 actor 视角的关系契约值
func (s *friendServiceImpl) GetRelation(ctx context.Context, actorUUID, peerUUID string) (relation.ContractState, *ChatError) {
	if actorUUID == peerUUID {
		return relation.RelationNone, validationError(consts.CodeRequestSelf)
	}
	rel, err := s.relationRepo.GetRelationship(ctx, actorUUID, peerUUID)
	if err != nil {
		return relation.RelationNone, storageFailureError(err)
	}
	return relation.Contract(rel), nil
}

// apply 统一的事件执行路径。
// notifyEvent 非空时，落库成功后向 peer 推送通知。
func (s *friendServiceImpl) apply(ctx context.Context, actorUUID, peerUUID string, ev relation.Event, notifyEvent string) *ChatError {
	if actorUUID == peerUUID {
		return validationError(consts.CodeRequestSelf)
	}

	// 仅对会新建边的事件校验对方存在，其余事件必然已有关系记录
	if ev == relation.EventRequest {
		if _, err := s.userRepo.GetByUUID(ctx, peerUUID); err != nil {
			if errors.Is(err, repository.ErrRecordNotFound) {
				return validationError(consts.CodeUserNotFound)
			}
			return storageFailureError(err)
		}
	}

	rel, err := s.relationRepo.GetRelationship(ctx, actorUUID, peerUUID)
	if err != nil {
		return storageFailureError(err)
	}

	outcome, err := relation.Next(rel, ev)
	if err != nil {
		return invalidTransitionError(err)
	}

	if chatErr := s.applyOutcome(ctx, actorUUID, peerUUID, outcome); chatErr != nil {
		return chatErr
	}

	if notifyEvent != "" && s.notifier != nil && outcome != relation.OutcomeNoop {
		s.notifier.NotifyUser(ctx, peerUUID, notifyEvent, actorUUID, 0)
	}
	return nil
}

// applyOutcome 将状态机裁决结果落库。
func (s *friendServiceImpl) applyOutcome(ctx context.Context, actorUUID, peerUUID string, outcome relation.Outcome) *ChatError {
	var err error
	switch outcome {
	case relation.OutcomeNoop:
		return nil
	case relation.OutcomeCreatePending:
		err = s.relationRepo.CreatePending(ctx, actorUUID, peerUUID)
	case relation.OutcomeAcceptEdge:
		// 待确认边的方向是 peer -> actor（只有收件方能接受）
		err = s.relationRepo.AcceptEdge(ctx, peerUUID, actorUUID)
	case relation.OutcomeDeleteEdge:
		err = s.relationRepo.DeleteEdge(ctx, actorUUID, peerUUID)
	case relation.OutcomeBlock:
		err = s.relationRepo.Block(ctx, actorUUID, peerUUID)
	case relation.OutcomeUnblock:
		err = s.relationRepo.Unblock(ctx, actorUUID, peerUUID)
	default:
		return storageFailureError(errors.New("unknown outcome"))
	}

	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			// 并发竞争：读到的快照在裁决与落库之间被其他设备改掉了
			return invalidTransitionError(err)
		}
		return storageFailureError(err)
	}
	return nil
}
