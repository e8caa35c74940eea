package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/doorbell-lab/backend/internal/analysis/diagnosis"
	"github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
)

const labPreamble = `你是一位友善且知识渊博的计算机科学实验室助手，面向八年级学生。
学生正在使用一个“物联网智能门铃模拟软件”来学习 MQTT 协议 (消息队列遥测传输)。`

const labConcepts = `你需要教授的关键概念：
1. **发布者 (Publisher - 门铃)**: 当发生事件（如按下按钮）时发送消息。
2. **代理服务器 (Broker - 服务器)**: 像“邮局”一样，接收消息并进行分发。
3. **订阅者 (Subscriber - 手机)**: 告诉代理服务器“我想接收关于门铃的消息”。
4. **主题 (Topic)**: 特定的频道名称，这里是 "home/doorbell"。

你的目标是：
1. 用中文回答关于物联网设备如何通过互联网通信的问题。
2. 如果模拟无法工作，引导他们检查依赖链：电源 -> 启动服务器 -> 手机订阅 -> 按下按钮。
3. 解释要简单易懂。使用类比，例如“代理服务器就像微信群的服务器”。
4. 解释 MQTT 是轻量级且快速的，非常适合像门铃这样的小型设备。

不要使用过于技术性的代码。专注于数据流向：
按钮按下 -> 数据包 -> WiFi -> 互联网 -> MQTT 代理服务器 -> 互联网 -> 手机 App。`

// BuildSystemPrompt embeds the four observable flags of s into the fixed
// instructional preamble.
func BuildSystemPrompt(s simulation.State) string {
	var b strings.Builder
	b.WriteString(labPreamble)
	b.WriteString("\n\n当前模拟状态：\n")
	fmt.Fprintf(&b, "- 智能门铃电源: %s\n", pick(s.DoorbellPower, "开启 (ON)", "关闭 (OFF)"))
	fmt.Fprintf(&b, "- MQTT 代理服务器 (Broker): %s\n", pick(s.ServerOnline, "在线 (ONLINE)", "离线 (OFFLINE)"))
	fmt.Fprintf(&b, "- 手机 App: %s\n", pick(s.PhoneConnected, "已连接/已订阅 (CONNECTED)", "断开/未订阅 (DISCONNECTED)"))
	fmt.Fprintf(&b, "- 门铃正在响: %s\n", pick(s.IsRinging, "是", "否"))

	// 依赖链里缺的那一环，帮助模型直接指出下一步。
	if next := diagnosis.NextStep(s); next != diagnosis.StepPress {
		fmt.Fprintf(&b, "\n学生当前卡在第 %d 步：%s。\n", int(next), next.Title())
	}

	b.WriteString("\n")
	b.WriteString(labConcepts)
	return b.String()
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
