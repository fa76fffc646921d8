package relation

import "errors"

// ErrInvalidTransition 关系状态机非法变更。
// 调用方收到该错误时不得落任何变更。
var ErrInvalidTransition = errors.New("invalid relationship transition")

// EdgeState 好友边状态（以操作发起方 actor 的视角描述）。
type EdgeState int8

const (
	// EdgeNone 无好友边
	EdgeNone EdgeState = iota
	// EdgePendingOut actor 发出的申请等待对方处理
	EdgePendingOut
	// EdgePendingIn 对方发来的申请等待 actor 处理
	EdgePendingIn
	// EdgeAccepted 互为好友
	EdgeAccepted
)

// Relationship actor 与 peer 之间的完整关系快照。
// 拉黑与好友边正交：任一方向拉黑即整体视为 BLOCKED。
type Relationship struct {
	Edge           EdgeState
	BlockedByActor bool // actor 拉黑了 peer
	BlockedByPeer  bool // peer 拉黑了 actor
}

// Blocked 任一方向存在拉黑。
func (r Relationship) Blocked() bool {
	return r.BlockedByActor || r.BlockedByPeer
}

// Event 状态机事件，全部由 actor 发起。
type Event int8

const (
	// EventRequest 发起好友申请
	EventRequest Event = iota
	// EventAccept 接受对方的申请
	EventAccept
	// EventReject 拒绝对方的申请
	EventReject
	// EventCancel 撤回自己发出的申请
	EventCancel
	// EventUnfriend 删除好友
	EventUnfriend
	// EventBlock 拉黑对方
	EventBlock
	// EventUnblock 解除自己发起的拉黑
	EventUnblock
)

// Outcome 状态机裁决结果，描述存储层应执行的变更。
// 状态机本身不做 I/O，由服务层在一个事务内落库。
type Outcome int8

const (
	// OutcomeNoop 幂等命中，无需变更（如重复发申请）
	OutcomeNoop Outcome = iota
	// OutcomeCreatePending 创建 actor -> peer 的待确认边
	OutcomeCreatePending
	// OutcomeAcceptEdge 将待确认边置为已接受
	OutcomeAcceptEdge
	// OutcomeDeleteEdge 删除好友边（拒绝/撤回/删好友）
	OutcomeDeleteEdge
	// OutcomeBlock 写入 actor -> peer 拉黑记录并删除好友边
	OutcomeBlock
	// OutcomeUnblock 删除 actor -> peer 拉黑记录
	OutcomeUnblock
)

// edgeTransitions 无拉黑情况下的边状态转移表。
// 不在表中的 (state, event) 组合一律视为非法变更。
var edgeTransitions = map[EdgeState]map[Event]Outcome{
	EdgeNone: {
		EventRequest: OutcomeCreatePending,
	},
	EdgePendingOut: {
		EventRequest: OutcomeNoop, // 重复申请幂等
		EventCancel:  OutcomeDeleteEdge,
	},
	EdgePendingIn: {
		EventAccept: OutcomeAcceptEdge,
		EventReject: OutcomeDeleteEdge,
	},
	EdgeAccepted: {
		EventUnfriend: OutcomeDeleteEdge,
	},
}

// Next 对当前关系应用事件，返回应执行的变更。
// 规则：
//   - Block 在任何状态下合法，但同方向重复拉黑非法；
//   - Unblock 仅由拉黑发起方执行；
//   - 存在任一方向拉黑时，除 Block/Unblock 外的事件全部非法
//     （拉黑覆盖 PENDING/ACCEPTED，解除后回到 NONE 而不是原状态）；
//   - 其余事件查 edgeTransitions 表。
func Next(rel Relationship, ev Event) (Outcome, error) {
	switch ev {
	case EventBlock:
		if rel.BlockedByActor {
			return 0, ErrInvalidTransition
		}
		return OutcomeBlock, nil
	case EventUnblock:
		if !rel.BlockedByActor {
			return 0, ErrInvalidTransition
		}
		return OutcomeUnblock, nil
	}

	if rel.Blocked() {
		return 0, ErrInvalidTransition
	}

	if outcomes, ok := edgeTransitions[rel.Edge]; ok {
		if outcome, ok := outcomes[ev]; ok {
			return outcome, nil
		}
	}
	return 0, ErrInvalidTransition
}

// ==================== 对外关系枚举（读取契约） ====================

// ContractState get_relationship 契约的五态枚举，以 (a, b) 顺序描述。
type ContractState int8

const (
	// RelationNone 无任何关系
	RelationNone ContractState = iota
	// RelationPendingAToB a 已向 b 发出申请
	RelationPendingAToB
	// RelationPendingBToA b 已向 a 发出申请
	RelationPendingBToA
	// RelationAccepted 互为好友
	RelationAccepted
	// RelationBlocked 任一方向存在拉黑（覆盖其他状态）
	RelationBlocked
)

func (s ContractState) String() string {
	switch s {
	case RelationPendingAToB:
		return "PENDING_A_TO_B"
	case RelationPendingBToA:
		return "PENDING_B_TO_A"
	case RelationAccepted:
		return "ACCEPTED"
	case RelationBlocked:
		return "BLOCKED"
	default:
		return "NONE"
	}
}

// Contract 将 actor 视角的关系快照折算为 (actor, peer) 的契约枚举。
func Contract(rel Relationship) ContractState {
	if rel.Blocked() {
		return RelationBlocked
	}
	switch rel.Edge {
	case EdgePendingOut:
		return RelationPendingAToB
	case EdgePendingIn:
		return RelationPendingBToA
	case EdgeAccepted:
		return RelationAccepted
	default:
		return RelationNone
	}
}
