package idgen

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
)

var node *snowflake.Node

// Init 初始化雪花节点，进程启动时调用一次。
// 节点编号读取 IDGEN_NODE（0~1023），未设置时默认 0。
// 多进程部署必须为每个进程配置不同编号，否则会产生重复 id。
func Init() error {
	n := int64(0)
	if env := os.Getenv("IDGEN_NODE"); env != "" {
		parsed, err := strconv.ParseInt(env, 10, 64)
		if err != nil {
			return err
		}
		n = parsed
	}
	created, err := snowflake.NewNode(n)
	if err != nil {
		return err
	}
	node = created
	return nil
}

// NextID 生成一个可排序的唯一 id。
// 用于群组等业务实体的标识；消息 id 由存储层自增序列分配，不走这里。
func NextID() int64 {
	return node.Generate().Int64()
}

// NextUUID 生成字符串形式的唯一 id（base58，长度与 user_info.uuid 相近）。
func NextUUID() string {
	return node.Generate().Base58()
}
