package executor

// Stage 标识执行流水线中的一个阶段。阶段顺序固定，
// 任何一次执行都按顺序推进，失败即终止，绝不回跳。
type Stage string

// 流水线阶段，按执行顺序排列。
const (
	StageValidation Stage = "validation"
	StagePolicy     Stage = "policy"
	StageBuild      Stage = "build"
	StageSign       Stage = "sign"
	StageSend       Stage = "send"
	StageConfirm    Stage = "confirm"
)

var stageOrder = []Stage{
	StageValidation,
	StagePolicy,
	StageBuild,
	StageSign,
	StageSend,
	StageConfirm,
}

// Stages 返回全部阶段的有序副本。
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Next 返回 s 的下一个阶段。s 已是最后一个阶段或非法时返回 false。
func (s Stage) Next() (Stage, bool) {
	for i, cur := range stageOrder {
		if cur == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Index 返回阶段在流水线中的序号，非法阶段返回 -1。
func (s Stage) Index() int {
	for i, cur := range stageOrder {
		if cur == s {
			return i
		}
	}
	return -1
}
