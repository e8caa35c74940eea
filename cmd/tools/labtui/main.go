package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/doorbell-lab/backend/internal/config"
	"github.com/zhouzirui/doorbell-lab/backend/internal/service/ai"
	"github.com/zhouzirui/doorbell-lab/backend/internal/service/chat"
	"github.com/zhouzirui/doorbell-lab/backend/internal/service/simulation"
	"github.com/zhouzirui/doorbell-lab/backend/internal/tui"
)

func main() {
	logPath := flag.String("log", "labtui.log", "日志文件路径（终端被界面占用）")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatalf("无法打开日志文件: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(logFile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := simulation.NewStore()
	timings := simulation.DefaultTimings().Scaled(cfg.Simulation.TimeScale)
	lab := simulation.NewChoreographer(store, simulation.NewTimerScheduler(), timings)
	defer lab.Reset()

	bridge := tui.NewStateBridge()
	store.Subscribe(bridge.HandleState)

	var responder ai.Responder
	if cfg.AI.Enabled() {
		responder, err = ai.NewResponder(ctx, cfg.AI)
		if err != nil {
			log.Printf("[WARN] 助手初始化失败，将返回兜底回复: %v", err)
		}
	}
	assistant := ai.NewService(responder, ai.WithTimeout(cfg.AI.Timeout))

	chats := chat.NewService()
	session, err := chats.CreateSession(ctx)
	if err != nil {
		log.Fatalf("创建会话失败: %v", err)
	}
	messages, err := chats.LoadTranscript(ctx, session.ID)
	if err != nil {
		log.Fatalf("读取会话失败: %v", err)
	}

	model := tui.NewAppModel(ctx, tui.Dependencies{
		Lab:          lab,
		Changes:      bridge.Changes(),
		Transcript:   chats,
		Assistant:    assistant,
		Session:      session,
		Messages:     messages,
		HistoryLimit: cfg.AI.HistoryLimit,
	})

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		log.Printf("labtui exited: %v", err)
	}
}
