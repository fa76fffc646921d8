package svc

import (
	"context"
	"errors"
	"strings"

	"ChatCore/apps/chat/internal/repository"
	"ChatCore/consts"
	"ChatCore/model"
)

const maxGroupNameLen = 64

// groupServiceImpl 群组生命周期服务实现。
// 覆盖扇出所需的最小集合：建群、进群、退群、成员列表。
// 成员变更通过群 Topic 广播，各进程的订阅侧转发给本地相关会话。
type groupServiceImpl struct {
	groupRepo repository.IGroupRepository
	userRepo  repository.IUserRepository
	notifier  *Notifier
}

// GroupService 群组服务契约。
type GroupService interface {
	Create(ctx context.Context, ownerUUID, name string) (*model.GroupInfo, *ChatError)
	Join(ctx context.Context, groupID int64, userUUID string) *ChatError
	Leave(ctx context.Context, groupID int64, userUUID string) *ChatError
	// Members 返回群成员列表，仅群成员可查
	Members(ctx context.Context, groupID int64, callerUUID string) ([]string, *ChatError)
}

// NewGroupService 创建群组服务实例
func NewGroupService(
	groupRepo repository.IGroupRepository,
	userRepo repository.IUserRepository,
	notifier *Notifier,
) GroupService {
	return &groupServiceImpl{
		groupRepo: groupRepo,
		userRepo:  userRepo,
		notifier:  notifier,
	}
}

// Create 创建群组，创建者自动成为群主。
func (s *groupServiceImpl) Create(ctx context.Context, ownerUUID, name string) (*model.GroupInfo, *ChatError) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > maxGroupNameLen {
		return nil, validationError(consts.CodeParamError)
	}

	group, err := s.groupRepo.CreateGroup(ctx, ownerUUID, name)
	if err != nil {
		return nil, storageFailureError(err)
	}

	if s.notifier != nil {
		s.notifier.NotifyGroup(ctx, group.GroupId, NotifyGroupCreate, ownerUUID)
	}
	return group, nil
}

// Join 加入群组。重复加群幂等。
func (s *groupServiceImpl) Join(ctx context.Context, groupID int64, userUUID string) *ChatError {
	if _, err := s.groupRepo.GetGroup(ctx, groupID); err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return validationError(consts.CodeGroupNotFound)
		}
		return storageFailureError(err)
	}

	already, err := s.groupRepo.IsMember(ctx, groupID, userUUID)
	if err != nil {
		return storageFailureError(err)
	}
	if already {
		return nil
	}

	if err := s.groupRepo.AddMember(ctx, groupID, userUUID, model.GroupRoleMember); err != nil {
		return storageFailureError(err)
	}

	if s.notifier != nil {
		s.notifier.NotifyGroup(ctx, groupID, NotifyGroupJoin, userUUID)
	}
	return nil
}

// Leave 退出群组。群主不可直接退群。
func (s *groupServiceImpl) Leave(ctx context.Context, groupID int64, userUUID string) *ChatError {
	group, err := s.groupRepo.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return validationError(consts.CodeGroupNotFound)
		}
		return storageFailureError(err)
	}
	if group.OwnerUuid == userUUID {
		return notAuthorizedError(consts.CodeNoPermission)
	}

	if err := s.groupRepo.RemoveMember(ctx, groupID, userUUID); err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return validationError(consts.CodeNotGroupMember)
		}
		return storageFailureError(err)
	}

	if s.notifier != nil {
		s.notifier.NotifyGroup(ctx, groupID, NotifyGroupLeave, userUUID)
	}
	return nil
}

// Members 返回群成员列表，仅群成员可查。
func (s *groupServiceImpl) Members(ctx context.Context, groupID int64, callerUUID string) ([]string, *ChatError) {
	isMember, err := s.groupRepo.IsMember(ctx, groupID, callerUUID)
	if err != nil {
		return nil, storageFailureError(err)
	}
	if !isMember {
		return nil, notAuthorizedError(consts.CodeNotGroupMember)
	}

	members, err := s.groupRepo.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, storageFailureError(err)
	}
	return members, nil
}
