package svc

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"ChatCore/apps/chat/internal/manager"
	"ChatCore/apps/chat/internal/relation"
	"ChatCore/config"
	"ChatCore/consts"
	rediskey "ChatCore/consts/redisKey"
	"ChatCore/model"
	"ChatCore/pkg/broker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "proc-test-1"

// failingBroker 发布永远失败，订阅不可用。
type failingBroker struct{}

func (failingBroker) Publish(context.Context, string, []byte) error {
	return assert.AnError
}

func (failingBroker) Subscribe(context.Context, ...string) (<-chan broker.Message, func(), error) {
	return nil, nil, assert.AnError
}

func (failingBroker) Close() error { return nil }

func newTestRouter(relRepo *fakeRelationRepository, groupRepo *fakeGroupRepository, msgRepo *fakeMessageRepository, publisher broker.Broker) *ChatRouter {
	return newTestRouterWithConns(relRepo, groupRepo, msgRepo, publisher, manager.NewConnectionManager())
}

func newTestRouterWithConns(relRepo *fakeRelationRepository, groupRepo *fakeGroupRepository, msgRepo *fakeMessageRepository, publisher broker.Broker, conns *manager.ConnectionManager) *ChatRouter {
	initSvcTestLogger()
	gate := NewAuthorizationGate(relRepo, groupRepo)
	return NewChatRouter(
		gate,
		msgRepo,
		&fakeUserRepository{},
		conns,
		publisher,
		nil,
		testOrigin,
		config.DefaultChatConfig(),
		config.DefaultMediaConfig(),
	)
}

func acceptedRelationRepo() *fakeRelationRepository {
	return &fakeRelationRepository{
		getRelationshipFn: func(_ context.Context, _, _ string) (relation.Relationship, error) {
			return relation.Relationship{Edge: relation.EdgeAccepted}, nil
		},
	}
}

func directMessage(nonce, target, body string) *SendMessageData {
	return &SendMessageData{
		ClientNonce: nonce,
		TargetKind:  model.TargetKindUser,
		TargetUuid:  target,
		Body:        body,
	}
}

// recvEnvelope 从订阅通道取一条投递 envelope，超时视为未投递。
func recvEnvelope(t *testing.T, ch <-chan broker.Message) *BrokerEnvelope {
	t.Helper()
	select {
	case msg := <-ch:
		var env BrokerEnvelope
		require.NoError(t, json.Unmarshal(msg.Payload, &env))
		return &env
	case <-time.After(time.Second):
		t.Fatal("投递通道超时未收到 envelope")
		return nil
	}
}

func assertNoEnvelope(t *testing.T, ch <-chan broker.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("不应收到投递 envelope: %s", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDirectMessageFanOut(t *testing.T) {
	mem := broker.NewMemoryBroker(16)
	defer mem.Close()
	msgRepo := newFakeMessageRepository()
	router := newTestRouter(acceptedRelationRepo(), &fakeGroupRepository{}, msgRepo, mem)

	ch, cancel, err := mem.Subscribe(context.Background(), rediskey.UserTopic("u-bob"))
	require.NoError(t, err)
	defer cancel()

	ack, chatErr := router.HandleSendMessage(context.Background(),
		&Identity{UserUUID: "u-alice", DeviceID: "d1"},
		directMessage("nonce-1", "u-bob", "hello"))

	require.Nil(t, chatErr)
	require.NotNil(t, ack)
	assert.False(t, ack.Duplicate)
	assert.Equal(t, "nonce-1", ack.ClientNonce)
	assert.Greater(t, ack.MessageId, int64(0))

	env := recvEnvelope(t, ch)
	assert.Equal(t, testOrigin, env.Origin)
	assert.Equal(t, "u-bob", env.RecipientUuid)
	assert.Equal(t, ack.MessageId, env.MessageId)

	var frame Envelope
	require.NoError(t, json.Unmarshal(env.Frame, &frame))
	assert.Equal(t, FrameMessage, frame.Type)

	var deliver DeliverMessageData
	require.NoError(t, json.Unmarshal(frame.Data, &deliver))
	assert.Equal(t, "u-alice", deliver.SenderUuid)
	assert.Equal(t, "hello", deliver.Body)

	// 发布成功后投递行应被回写
	assert.Equal(t, []string{"u-bob"}, msgRepo.publishedTo(ack.MessageId))
}

func TestBlockedPairNeverDelivers(t *testing.T) {
	directions := map[string]relation.Relationship{
		"发送方拉黑对方": {Edge: relation.EdgeAccepted, BlockedByActor: true},
		"对方拉黑发送方": {Edge: relation.EdgeAccepted, BlockedByPeer: true},
	}

	for name, rel := range directions {
		t.Run(name, func(t *testing.T) {
			mem := broker.NewMemoryBroker(16)
			defer mem.Close()
			msgRepo := newFakeMessageRepository()
			relRepo := &fakeRelationRepository{
				getRelationshipFn: func(_ context.Context, _, _ string) (relation.Relationship, error) {
					return rel, nil
				},
			}
			router := newTestRouter(relRepo, &fakeGroupRepository{}, msgRepo, mem)

			ch, cancel, err := mem.Subscribe(context.Background(), rediskey.UserTopic("u-bob"))
			require.NoError(t, err)
			defer cancel()

			ack, chatErr := router.HandleSendMessage(context.Background(),
				&Identity{UserUUID: "u-alice"},
				directMessage("nonce-1", "u-bob", "hello"))

			require.Nil(t, ack)
			require.NotNil(t, chatErr)
			// 两个方向返回同一错误，不泄露拉黑方向
			assert.Equal(t, consts.ErrorKindNotAuthorized, chatErr.Kind)
			assert.Equal(t, consts.CodeBlocked, chatErr.Code)

			// 被拒绝的消息不落库、不扇出
			assert.Empty(t, msgRepo.saved)
			assertNoEnvelope(t, ch)
		})
	}
}

func TestNonFriendDenied(t *testing.T) {
	mem := broker.NewMemoryBroker(16)
	defer mem.Close()
	relRepo := &fakeRelationRepository{
		getRelationshipFn: func(_ context.Context, _, _ string) (relation.Relationship, error) {
			return relation.Relationship{Edge: relation.EdgePendingOut}, nil
		},
	}
	router := newTestRouter(relRepo, &fakeGroupRepository{}, newFakeMessageRepository(), mem)

	ack, chatErr := router.HandleSendMessage(context.Background(),
		&Identity{UserUUID: "u-alice"},
		directMessage("nonce-1", "u-bob", "hello"))

	require.Nil(t, ack)
	require.NotNil(t, chatErr)
	assert.Equal(t, consts.ErrorKindNotAuthorized, chatErr.Kind)
	assert.Equal(t, consts.CodeMessageNotAllowed, chatErr.Code)
}

func TestSendToSelfRejected(t *testing.T) {
	mem := broker.NewMemoryBroker(16)
	defer mem.Close()
	router := newTestRouter(acceptedRelationRepo(), &fakeGroupRepository{}, newFakeMessageRepository(), mem)

	ack, chatErr := router.HandleSendMessage(context.Background(),
		&Identity{UserUUID: "u-alice"},
		directMessage("nonce-1", "u-alice", "hello"))

	require.Nil(t, ack)
	require.NotNil(t, chatErr)
	assert.Equal(t, consts.ErrorKindValidation, chatErr.Kind)
}

func TestNonceReplayReturnsOriginalMessage(t *testing.T) {
	mem := broker.NewMemoryBroker(16)
	defer mem.Close()
	msgRepo := newFakeMessageRepository()
	router := newTestRouter(acceptedRelationRepo(), &fakeGroupRepository{}, msgRepo, mem)

	first, chatErr := router.HandleSendMessage(context.Background(),
		&Identity{UserUUID: "u-alice"},
		directMessage("nonce-dup", "u-bob", "hello"))
	require.Nil(t, chatErr)

	ch, cancel, err := mem.Subscribe(context.Background(), rediskey.UserTopic("u-bob"))
	require.NoError(t, err)
	defer cancel()

	second, chatErr := router.HandleSendMessage(context.Background(),
		&Identity{UserUUID: "u-alice"},
		directMessage("nonce-dup", "u-bob", "hello"))
	require.Nil(t, chatErr)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.MessageId, second.MessageId)

	// 重放不重复落库、不重复扇出
	assert.Len(t, msgRepo.saved, 1)
	assertNoEnvelope(t, ch)

	// 不同 nonce 为新消息
	third, chatErr := router.HandleSendMessage(context.Background(),
		&Identity{UserUUID: "u-alice"},
		directMessage("nonce-new", "u-bob", "hello"))
	require.Nil(t, chatErr)
	assert.False(t, third.Duplicate)
	assert.NotEqual(t, first.MessageId, third.MessageId)
}

func TestGroupFanOutExcludesBlockedMembers(t *testing.T) {
	mem := broker.NewMemoryBroker(16)
	defer mem.Close()
	msgRepo := newFakeMessageRepository()

	groupRepo := &fakeGroupRepository{
		isMemberFn: func(_ context.Context, _ int64, userUUID string) (bool, error) {
			return userUUID == "u-alice" || userUUID == "u-bob" ||
				userUUID == "u-carol" || userUUID == "u-dave", nil
		},
		getGroupMembersFn: func(_ context.Context, _ int64) ([]string, error) {
			return []string{"u-alice", "u-bob", "u-carol", "u-dave"}, nil
		},
	}
	// u-carol 与发送方存在拉黑关系，无论方向都要剔除
	relRepo := &fakeRelationRepository{
		isBlockedFn: func(_ context.Context, a, b string) (bool, error) {
			return a == "u-carol" || b == "u-carol", nil
		},
	}
	router := newTestRouter(relRepo, groupRepo, msgRepo, mem)

	chans := make(map[string]<-chan broker.Message)
	for _, member := range []string{"u-alice", "u-bob", "u-carol", "u-dave"} {
		ch, cancel, err := mem.Subscribe(context.Background(), rediskey.UserTopic(member))
		require.NoError(t, err)
		defer cancel()
		chans[member] = ch
	}

	ack, chatErr := router.HandleSendMessage(context.Background(),
		&Identity{UserUUID: "u-alice"},
		&SendMessageData{
			ClientNonce: "nonce-g1",
			TargetKind:  model.TargetKindGroup,
			GroupId:     42,
			Body:        "group hello",
		})
	require.Nil(t, chatErr)
	require.NotNil(t, ack)

	for _, member := range []string{"u-bob", "u-dave"} {
		env := recvEnvelope(t, chans[member])
		assert.Equal(t, member, env.RecipientUuid)
	}
	// 发送方自己与被拉黑成员收不到
	assertNoEnvelope(t, chans["u-alice"])
	assertNoEnvelope(t, chans["u-carol"])

	published := msgRepo.publishedTo(ack.MessageId)
	assert.ElementsMatch(t, []string{"u-bob", "u-dave"}, published)
}

func TestGroupSenderMustBeMember(t *testing.T) {
	mem := broker.NewMemoryBroker(16)
	defer mem.Close()
	groupRepo := &fakeGroupRepository{
		isMemberFn: func(_ context.Context, _ int64, _ string) (bool, error) {
			return false, nil
		},
	}
	router := newTestRouter(&fakeRelationRepository{}, groupRepo, newFakeMessageRepository(), mem)

	ack, chatErr := router.HandleSendMessage(context.Background(),
		&Identity{UserUUID: "u-outsider"},
		&SendMessageData{
			ClientNonce: "nonce-g2",
			TargetKind:  model.TargetKindGroup,
			GroupId:     42,
			Body:        "hi",
		})

	require.Nil(t, ack)
	require.NotNil(t, chatErr)
	assert.Equal(t, consts.ErrorKindNotAuthorized, chatErr.Kind)
	assert.Equal(t, consts.CodeNotGroupMember, chatErr.Code)
}

func TestValidateMessage(t *testing.T) {
	mem := broker.NewMemoryBroker(16)
	defer mem.Close()
	router := newTestRouter(acceptedRelationRepo(), &fakeGroupRepository{}, newFakeMessageRepository(), mem)

	tests := []struct {
		name     string
		data     *SendMessageData
		wantCode int
	}{
		{
			name:     "缺少 nonce",
			data:     &SendMessageData{TargetKind: model.TargetKindUser, TargetUuid: "u-bob", Body: "hi"},
			wantCode: consts.CodeParamError,
		},
		{
			name:     "正文与附件均为空",
			data:     directMessage("n1", "u-bob", ""),
			wantCode: consts.CodeParamError,
		},
		{
			name:     "正文超长",
			data:     directMessage("n2", "u-bob", strings.Repeat("字", 4001)),
			wantCode: consts.CodeBodyTooLarge,
		},
		{
			name: "附件超限",
			data: &SendMessageData{
				ClientNonce: "n3", TargetKind: model.TargetKindUser, TargetUuid: "u-bob",
				Attachment: &AttachmentData{Url: "http://x/a.png", Size: 100 * 1024 * 1024, Mime: "image/png"},
			},
			wantCode: consts.CodeAttachmentTooLarge,
		},
		{
			name: "附件类型不允许",
			data: &SendMessageData{
				ClientNonce: "n4", TargetKind: model.TargetKindUser, TargetUuid: "u-bob",
				Attachment: &AttachmentData{Url: "http://x/a.exe", Size: 1024, Mime: "application/x-msdownload"},
			},
			wantCode: consts.CodeAttachmentBadType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, chatErr := router.HandleSendMessage(context.Background(),
				&Identity{UserUUID: "u-alice"}, tt.data)
			require.Nil(t, ack)
			require.NotNil(t, chatErr)
			assert.Equal(t, consts.ErrorKindValidation, chatErr.Kind)
			assert.Equal(t, tt.wantCode, chatErr.Code)
		})
	}
}

func TestStorageFailureReturnsCategorizedError(t *testing.T) {
	mem := broker.NewMemoryBroker(16)
	defer mem.Close()
	msgRepo := newFakeMessageRepository()
	msgRepo.insertErr = assert.AnError
	router := newTestRouter(acceptedRelationRepo(), &fakeGroupRepository{}, msgRepo, mem)

	ack, chatErr := router.HandleSendMessage(context.Background(),
		&Identity{UserUUID: "u-alice"},
		directMessage("nonce-1", "u-bob", "hello"))

	require.Nil(t, ack)
	require.NotNil(t, chatErr)
	assert.Equal(t, consts.ErrorKindStorageFailure, chatErr.Kind)
}

func TestAllPublishesFailedReturnsBrokerFailure(t *testing.T) {
	msgRepo := newFakeMessageRepository()
	router := newTestRouter(acceptedRelationRepo(), &fakeGroupRepository{}, msgRepo, failingBroker{})

	ack, chatErr := router.HandleSendMessage(context.Background(),
		&Identity{UserUUID: "u-alice"},
		directMessage("nonce-1", "u-bob", "hello"))

	require.Nil(t, ack)
	require.NotNil(t, chatErr)
	assert.Equal(t, consts.ErrorKindBrokerFailure, chatErr.Kind)

	// 消息已持久化，投递行保持 pending 待补发
	assert.Len(t, msgRepo.saved, 1)
	assert.Empty(t, msgRepo.publishedTo(msgRepo.saved[0].Id))
}

func TestRecoverySweepRepublishesStalePending(t *testing.T) {
	mem := broker.NewMemoryBroker(16)
	defer mem.Close()
	msgRepo := newFakeMessageRepository()
	router := newTestRouter(acceptedRelationRepo(), &fakeGroupRepository{}, msgRepo, mem)

	saved, _, err := msgRepo.InsertMessage(context.Background(), &model.Message{
		SenderUuid:  "u-alice",
		ClientNonce: "nonce-stale",
		TargetKind:  model.TargetKindUser,
		TargetUuid:  "u-bob",
		Body:        "missed you",
	}, []string{"u-bob"})
	require.NoError(t, err)
	msgRepo.stale = []*model.MessageDelivery{
		{MessageId: saved.Id, RecipientUuid: "u-bob"},
	}

	ch, cancel, err := mem.Subscribe(context.Background(), rediskey.UserTopic("u-bob"))
	require.NoError(t, err)
	defer cancel()

	router.RecoverySweep(context.Background())

	env := recvEnvelope(t, ch)
	assert.Equal(t, saved.Id, env.MessageId)
	assert.Equal(t, "u-bob", env.RecipientUuid)
	assert.Equal(t, []string{"u-bob"}, msgRepo.publishedTo(saved.Id))
}

func TestRecoverySweepDeliversToLocalSessions(t *testing.T) {
	mem := broker.NewMemoryBroker(16)
	defer mem.Close()
	msgRepo := newFakeMessageRepository()
	conns := manager.NewConnectionManager()
	defer conns.Shutdown()
	router := newTestRouterWithConns(acceptedRelationRepo(), &fakeGroupRepository{}, msgRepo, mem, conns)

	// 收件人唯一的会话就在本进程：订阅侧会按 origin 丢弃本进程发布的信封，
	// 补发必须直接走本地投递
	conn := newStubConn()
	sess := manager.NewSession(conn, "s1", "u-bob", "d1", manager.SessionOptions{})
	conns.Register(sess)
	go sess.Run(context.Background(), nil, nil)

	saved, _, err := msgRepo.InsertMessage(context.Background(), &model.Message{
		SenderUuid:  "u-alice",
		ClientNonce: "nonce-crash",
		TargetKind:  model.TargetKindUser,
		TargetUuid:  "u-bob",
		Body:        "after crash",
	}, []string{"u-bob"})
	require.NoError(t, err)
	msgRepo.stale = []*model.MessageDelivery{
		{MessageId: saved.Id, RecipientUuid: "u-bob"},
	}

	router.RecoverySweep(context.Background())

	require.Eventually(t, func() bool {
		return len(conn.frames()) == 1
	}, time.Second, 10*time.Millisecond)

	var frame Envelope
	require.NoError(t, json.Unmarshal(conn.frames()[0], &frame))
	assert.Equal(t, FrameMessage, frame.Type)

	var deliver DeliverMessageData
	require.NoError(t, json.Unmarshal(frame.Data, &deliver))
	assert.Equal(t, saved.Id, deliver.MessageId)
	assert.Equal(t, "after crash", deliver.Body)
}

func TestDrainWaitsForInflight(t *testing.T) {
	mem := broker.NewMemoryBroker(16)
	defer mem.Close()
	router := newTestRouter(acceptedRelationRepo(), &fakeGroupRepository{}, newFakeMessageRepository(), mem)

	assert.True(t, router.Drain(time.Second))
}
