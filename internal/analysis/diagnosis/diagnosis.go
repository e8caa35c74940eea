// Package diagnosis 根据模拟状态判断依赖链上缺失的环节。
package diagnosis

import "github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"

// Step identifies one link of the power -> broker -> subscribe -> press chain.
type Step int

const (
	StepPower Step = iota + 1
	StepBroker
	StepSubscribe
	StepPress
)

var stepTitles = map[Step]string{
	StepPower:     "打开门铃电源",
	StepBroker:    "启动 MQTT 代理服务器",
	StepSubscribe: "手机订阅主题 home/doorbell",
	StepPress:     "按下门铃按钮",
}

var stepDescriptions = map[Step]string{
	StepPower:     "发布者必须先通电并连接 WiFi，才能发送消息。",
	StepBroker:    "代理服务器像邮局一样负责接收和分发消息，它离线时消息无处可去。",
	StepSubscribe: "订阅者需要告诉代理服务器“我想接收门铃的消息”，否则消息会被丢弃。",
	StepPress:     "按下按钮后，门铃发布 DING 消息，经代理服务器路由到手机。",
}

// Title returns the short zh label of a step.
func (s Step) Title() string { return stepTitles[s] }

// NextStep returns the first link of the chain that is not satisfied yet.
// When every precondition holds it returns StepPress.
func NextStep(state simulation.State) Step {
	switch {
	case !state.DoorbellPower:
		return StepPower
	case !state.ServerOnline:
		return StepBroker
	case !state.PhoneConnected:
		return StepSubscribe
	default:
		return StepPress
	}
}

// Checklist builds the lab checklist. The last step only completes once a
// message actually reached the phone since the last reset.
func Checklist(state simulation.State, progress simulation.Progress) []simulation.LabStep {
	done := map[Step]bool{
		StepPower:     state.DoorbellPower,
		StepBroker:    state.ServerOnline,
		StepSubscribe: state.PhoneConnected,
		StepPress:     progress.Delivered > 0,
	}

	steps := make([]simulation.LabStep, 0, len(stepTitles))
	for _, s := range []Step{StepPower, StepBroker, StepSubscribe, StepPress} {
		steps = append(steps, simulation.LabStep{
			ID:          int(s),
			Title:       stepTitles[s],
			Description: stepDescriptions[s],
			Completed:   done[s],
		})
	}
	return steps
}

// Report bundles state, progress and checklist for renderers.
func Report(state simulation.State, progress simulation.Progress) simulation.Status {
	return simulation.Status{
		State:    state,
		Progress: progress,
		Steps:    Checklist(state, progress),
		NextStep: int(NextStep(state)),
	}
}
