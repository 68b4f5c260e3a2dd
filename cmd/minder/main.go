package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"minder/internal/agent"
	"minder/internal/calendar"
	"minder/internal/channel"
	"minder/internal/config"
	"minder/internal/dashboard"
	"minder/internal/llm"
	"minder/internal/mcpclient"
	"minder/internal/notify"
	"minder/internal/sched"
	"minder/internal/tools"
	"minder/internal/worker"
)

func main() {
	if len(os.Args) < 2 {
		run(runServe, nil)
		return
	}

	switch os.Args[1] {
	case "serve":
		run(runServe, os.Args[2:])
	case "chat":
		run(runChat, os.Args[2:])
	case "task":
		run(runTask, os.Args[2:])
	case "worker":
		run(runWorker, os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func run(fn func(args []string) error, args []string) {
	if err := fn(args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(`
usage: minder <command> [flags]

commands:
  serve    run the agent daemon (channels, scheduler, heartbeat)
  chat     interactive session on stdin
  task     run a single instruction and exit
  worker   run one maintenance and reconcile pass and exit
`))
}

// app holds the wired runtime shared by every subcommand.
type app struct {
	cfg config.Config
	log *slog.Logger

	store       *dashboard.Store
	policy      *notify.Policy
	scheduler   *sched.Service
	router      *channel.Router
	listeners   []channel.Listener
	reconciler  *notify.Reconciler
	registry    *tools.Registry
	mcp         *mcpclient.Runtime
	agent       *agent.Agent
	maintenance *worker.Maintenance
}

func buildApp(ctx context.Context, configPath string, temperature float64) (*app, error) {
	// Secrets live in .env next to the binary; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	log := slog.Default()
	store := dashboard.NewStore(cfg.Workspace)
	policy := notify.NewPolicy(cfg.NotificationPolicy)
	scheduler := sched.NewService(filepath.Join(cfg.Workspace, "jobs.json"), sched.Options{})

	router := channel.NewRouter()
	var listeners []channel.Listener
	if enabled(cfg.Channels.Telegram.Enabled) {
		tg := channel.NewTelegram(cfg.Channels.Telegram.Token)
		router.Register(tg)
		listeners = append(listeners, tg)
	}
	if enabled(cfg.Channels.Discord.Enabled) {
		dc, err := channel.NewDiscord(cfg.Channels.Discord.Token, cfg.Channels.Discord.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		router.Register(dc)
		listeners = append(listeners, dc)
	}
	if enabled(cfg.Channels.Email.Enabled) {
		em := channel.NewEmail()
		em.From = cfg.Channels.Email.From
		em.To = cfg.Channels.Email.To
		em.SMTPHost = cfg.Channels.Email.SMTPHost
		em.SMTPPort = cfg.Channels.Email.SMTPPort
		em.IMAPHost = cfg.Channels.Email.IMAPHost
		em.IMAPPort = cfg.Channels.Email.IMAPPort
		em.Username = cfg.Channels.Email.Username
		em.Password = cfg.Channels.Email.Password
		if d, err := time.ParseDuration(cfg.Channels.Email.PollEvery); err == nil && d > 0 {
			em.PollEvery = d
		}
		router.Register(em)
		listeners = append(listeners, em)
	}

	var cal notify.Calendar
	if enabled(cfg.Calendar.Enabled) {
		client, err := calendar.NewClient(ctx, calendar.Options{
			CredentialsFile: cfg.Calendar.CredentialsFile,
			TokenFile:       cfg.Calendar.TokenFile,
			CalendarID:      cfg.Calendar.CalendarID,
			Timezone:        cfg.Calendar.Timezone,
			DurationMinutes: cfg.Calendar.DurationMinutes,
		})
		if err != nil {
			log.Warn("calendar disabled", "error", err)
		} else {
			cal = client
		}
	}

	defaultChatID := defaultChatIDFor(cfg)
	reconciler := notify.NewReconciler(store, policy, router.Send, notify.ReconcilerOptions{
		Jobs:           scheduler,
		Calendar:       cal,
		DefaultChannel: cfg.Channels.Default,
		DefaultChatID:  defaultChatID,
	})
	scheduler.SetDispatch(reconciler.HandleJob)

	client, err := llm.NewChatClient(cfg.Model)
	if err != nil {
		return nil, err
	}

	notifDeps := tools.NotificationDeps{
		Store:   store,
		Jobs:    scheduler,
		Channel: cfg.Channels.Default,
		ChatID:  defaultChatID,
	}
	dashDeps := tools.DashboardDeps{Store: store}
	fileDeps := tools.FileDeps{Workspace: cfg.Workspace}

	registry := tools.NewRegistry()
	registry.Register(&tools.ScheduleNotificationTool{Deps: notifDeps})
	registry.Register(&tools.UpdateNotificationTool{Deps: notifDeps})
	registry.Register(&tools.CancelNotificationTool{Deps: notifDeps})
	registry.Register(&tools.ListNotificationsTool{Deps: notifDeps})
	registry.Register(&tools.CreateTaskTool{Deps: dashDeps})
	registry.Register(&tools.UpdateTaskTool{Deps: dashDeps})
	registry.Register(&tools.ArchiveTaskTool{Deps: dashDeps})
	registry.Register(&tools.CreateQuestionTool{Deps: dashDeps})
	registry.Register(&tools.AnswerQuestionTool{Deps: dashDeps})
	registry.Register(&tools.ListDashboardTool{Deps: dashDeps})
	registry.Register(&tools.ListFilesTool{Deps: fileDeps})
	registry.Register(&tools.ReadFileTool{Deps: fileDeps})
	registry.Register(&tools.WriteFileTool{Deps: fileDeps})
	registry.Register(&tools.EditFileTool{Deps: fileDeps})
	registry.Register(&tools.DeleteFileTool{Deps: fileDeps})
	registry.Register(&tools.ExecCommandTool{Deps: fileDeps})

	mcp := mcpclient.NewRuntime(func() ([]mcpclient.ServerConfig, error) {
		specs := make(map[string]mcpclient.ServerSpec, len(cfg.MCPServers))
		for name, s := range cfg.MCPServers {
			specs[name] = mcpclient.ServerSpec{
				Command: s.Command,
				Args:    s.Args,
				Env:     s.Env,
				URL:     s.URL,
			}
		}
		return mcpclient.FromSpecMap(specs), nil
	})
	reloadMCP := func(ctx context.Context) (string, error) {
		registry.Unregister(mcp.ToolNames()...)
		report, err := mcp.Reload(ctx)
		if err != nil {
			return "", err
		}
		for _, tool := range mcp.Tools() {
			registry.Register(tool)
		}
		return report.String(), nil
	}
	if len(cfg.MCPServers) > 0 {
		if report, err := mcp.Reload(ctx); err != nil {
			log.Warn("mcp connect", "error", err)
		} else {
			for _, tool := range mcp.Tools() {
				registry.Register(tool)
			}
			for _, w := range report.Warnings {
				log.Warn("mcp connect", "warning", w)
			}
		}
	}
	registry.Register(&tools.MCPReloadTool{Reload: reloadMCP})

	ag := agent.New(client, registry, store, cfg.Workspace, agent.Options{
		Temperature: float32(temperature),
	})

	workerSchedule := &tools.ScheduleNotificationTool{Deps: tools.NotificationDeps{
		Store:     store,
		Jobs:      scheduler,
		Channel:   cfg.Channels.Default,
		ChatID:    defaultChatID,
		CreatedBy: "worker",
	}}
	maintenance := worker.NewMaintenance(store, workerSchedule)

	return &app{
		cfg:         cfg,
		log:         log,
		store:       store,
		policy:      policy,
		scheduler:   scheduler,
		router:      router,
		listeners:   listeners,
		reconciler:  reconciler,
		registry:    registry,
		mcp:         mcp,
		agent:       ag,
		maintenance: maintenance,
	}, nil
}

func (a *app) close() {
	if err := a.mcp.Close(); err != nil {
		a.log.Warn("mcp close", "error", err)
	}
}

func enabled(v *bool) bool { return v != nil && *v }

// defaultChatIDFor resolves the delivery target notifications fall back to
// when an entry carries no chat id of its own.
func defaultChatIDFor(cfg config.Config) string {
	switch strings.ToLower(cfg.Channels.Default) {
	case "discord":
		return cfg.Channels.Discord.ChannelID
	case "email":
		return cfg.Channels.Email.To
	default:
		return cfg.Channels.Telegram.ChatID
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	temperature := fs.Float64("temperature", 0.2, "LLM temperature")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, *configPath, *temperature)
	if err != nil {
		return err
	}
	defer a.close()

	// Catch up on anything that was due while the process was down before
	// the timer loop takes over.
	if res := a.reconciler.Reconcile(ctx); res.Changed {
		a.log.Info("startup reconcile", "delivered", len(res.Due))
	}
	a.scheduler.Start(ctx)

	var heartbeat *worker.Heartbeat
	if enabled(a.cfg.Heartbeat.Enabled) {
		every, err := time.ParseDuration(a.cfg.Heartbeat.Every)
		if err != nil || every <= 0 {
			every = 30 * time.Minute
		}
		heartbeat = worker.NewHeartbeat(every, a.maintenance, a.reconciler, a.policy)
		heartbeat.Review = func(ctx context.Context) error {
			out, err := a.agent.RunTask(ctx, dashboardReviewPrompt)
			if err != nil {
				return err
			}
			a.log.Info("dashboard review", "summary", firstLine(out))
			return nil
		}
		heartbeat.Start(ctx)
	}

	inbox := make(chan channel.InboundMessage, 16)
	for _, l := range a.listeners {
		go func(l channel.Listener) {
			if err := l.Run(ctx, inbox); err != nil && ctx.Err() == nil {
				a.log.Error("listener stopped", "error", err)
			}
		}(l)
	}

	a.log.Info("minder running",
		"workspace", a.cfg.Workspace,
		"channels", strings.Join(a.router.Names(), ","),
		"tools", len(a.registry.Definitions()))

	for {
		select {
		case <-ctx.Done():
			<-a.scheduler.Done()
			if heartbeat != nil {
				<-heartbeat.Done()
			}
			a.log.Info("minder stopped")
			return nil
		case msg := <-inbox:
			a.handleInbound(ctx, msg)
		}
	}
}

const dashboardReviewPrompt = "Review the dashboard. Update stale task statuses, " +
	"close questions that have been resolved in passing, and schedule a reminder " +
	"for anything time-sensitive that has none. Make no changes if everything is in order."

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func (a *app) handleInbound(ctx context.Context, msg channel.InboundMessage) {
	a.log.Info("inbound message", "channel", msg.Channel, "chat_id", msg.ChatID)
	reply, err := a.agent.HandleMessage(ctx, msg.Channel, msg.ChatID, msg.Text)
	if err != nil {
		a.log.Error("handle message", "error", err)
		reply = "Sorry, something went wrong handling that. Please try again."
	}
	if strings.TrimSpace(reply) == "" {
		return
	}
	if err := a.router.Send(ctx, msg.Channel, msg.ChatID, reply); err != nil {
		a.log.Error("send reply", "error", err)
	}
	// A conversation often schedules something; fire the timer loop so a
	// near-future notification does not wait out the poll interval.
	a.scheduler.Wake()
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	temperature := fs.Float64("temperature", 0.2, "LLM temperature")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, *configPath, *temperature)
	if err != nil {
		return err
	}
	defer a.close()
	a.scheduler.Start(ctx)

	fmt.Println("minder ready. Type /exit to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return nil
		}
		reply, err := a.agent.HandleMessage(ctx, "cli", "local", line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(reply)
		a.scheduler.Wake()
	}
}

func runTask(args []string) error {
	fs := flag.NewFlagSet("task", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	temperature := fs.Float64("temperature", 0.2, "LLM temperature")
	fs.Parse(args)

	task := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if task == "" {
		return fmt.Errorf("usage: minder task [flags] <instruction>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, *configPath, *temperature)
	if err != nil {
		return err
	}
	defer a.close()

	out, err := a.agent.RunTask(ctx, task)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runWorker(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, *configPath, 0)
	if err != nil {
		return err
	}
	defer a.close()

	scheduled, err := a.maintenance.Run(ctx)
	if err != nil {
		return err
	}
	res := a.reconciler.Reconcile(ctx)
	delivered := append([]string(nil), res.Due...)
	sort.Strings(delivered)
	fmt.Printf("scheduled %d notification(s), delivered %d\n", scheduled, len(delivered))
	for _, id := range delivered {
		fmt.Println("  delivered", id)
	}
	return nil
}
