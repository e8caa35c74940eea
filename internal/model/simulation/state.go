package simulation

// PacketLocation 描述在途消息所处的动画阶段，仅用于可视化。
type PacketLocation string

const (
	PacketIdle             PacketLocation = "idle"
	PacketDoorbellToServer PacketLocation = "doorbell-to-server"
	PacketProcessing       PacketLocation = "processing"
	PacketServerToPhone    PacketLocation = "server-to-phone"
)

// MaxServerLogs bounds the broker log kept for display.
const MaxServerLogs = 7

// SeedLog is the single log line present right after initialisation or reset.
const SeedLog = "系统初始化完成... 等待服务启动。"

// State is the whole simulated world: three devices plus transient UI flags.
type State struct {
	DoorbellPower  bool           `json:"doorbellPower"`
	ServerOnline   bool           `json:"serverOnline"`
	ServerLogs     []string       `json:"serverLogs"`
	PhoneConnected bool           `json:"phoneConnected"`
	IsPressing     bool           `json:"isPressing"`
	IsRinging      bool           `json:"isRinging"`
	PacketLocation PacketLocation `json:"packetLocation"`
}

// Initial returns the fixed snapshot used at start-up and on reset.
func Initial() State {
	return State{
		ServerLogs:     []string{SeedLog},
		PacketLocation: PacketIdle,
	}
}

// Clone returns a copy that shares no memory with s.
func (s State) Clone() State {
	s.ServerLogs = append([]string(nil), s.ServerLogs...)
	return s
}

// Patch is a partial update. Nil fields are left untouched; ServerLogs, when
// set, replaces the whole log.
type Patch struct {
	DoorbellPower  *bool
	ServerOnline   *bool
	ServerLogs     []string
	PhoneConnected *bool
	IsPressing     *bool
	IsRinging      *bool
	PacketLocation *PacketLocation
}

// Apply merges p into s and returns the result.
func (p Patch) Apply(s State) State {
	if p.DoorbellPower != nil {
		s.DoorbellPower = *p.DoorbellPower
	}
	if p.ServerOnline != nil {
		s.ServerOnline = *p.ServerOnline
	}
	if p.ServerLogs != nil {
		s.ServerLogs = append([]string(nil), p.ServerLogs...)
	}
	if p.PhoneConnected != nil {
		s.PhoneConnected = *p.PhoneConnected
	}
	if p.IsPressing != nil {
		s.IsPressing = *p.IsPressing
	}
	if p.IsRinging != nil {
		s.IsRinging = *p.IsRinging
	}
	if p.PacketLocation != nil {
		s.PacketLocation = *p.PacketLocation
	}
	return s
}

// AppendLog returns a new log holding the most recent MaxServerLogs-1 entries
// of logs followed by line.
func AppendLog(logs []string, line string) []string {
	start := 0
	if len(logs) > MaxServerLogs-1 {
		start = len(logs) - (MaxServerLogs - 1)
	}
	out := make([]string, 0, MaxServerLogs)
	out = append(out, logs[start:]...)
	return append(out, line)
}

// Bool and Location are small helpers for building patches.
func Bool(v bool) *bool { return &v }

func Location(l PacketLocation) *PacketLocation { return &l }
