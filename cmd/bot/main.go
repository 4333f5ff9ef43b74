package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kotori-ai/internal/adapter/channel"
	"kotori-ai/internal/adapter/llm"
	"kotori-ai/internal/domain"
	"kotori-ai/internal/infra/config"
	"kotori-ai/internal/infra/logger"
	"kotori-ai/internal/infra/tracer"
	"kotori-ai/internal/usecase"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	registry, err := llm.NewRegistry(cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("build llm registry: %w", err)
	}

	estimator := usecase.NewTokenEstimator(log)
	store := usecase.NewConversationStore(cfg.Conversation.MaxTurns, cfg.Conversation.MaxTokens, estimator)
	memory, err := usecase.NewMemoryStore(cfg.Conversation.DataDir)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}

	gateway, err := usecase.NewGateway(registry, store, memory, cfg, log)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	reaper, err := usecase.NewReaper(store, cfg.Conversation.ReapSchedule, cfg.Conversation.StaleAfter, log)
	if err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}
	reaper.Start()
	defer reaper.Stop()

	if cfg.Discord == nil || cfg.Discord.Token == "" {
		return fmt.Errorf("discord.token is required")
	}

	opts := []channel.DiscordOption{
		channel.WithDiscordCommands(channel.NewCommands(gateway, memory)),
		channel.WithDiscordMentionOnly(cfg.Discord.MentionOnly),
	}
	if cfg.Discord.GuildID != "" {
		opts = append(opts, channel.WithDiscordGuild(cfg.Discord.GuildID))
	}
	if len(cfg.Discord.ChannelIDs) > 0 {
		opts = append(opts, channel.WithDiscordChannels(cfg.Discord.ChannelIDs))
	}
	discord := channel.NewDiscordChannel(cfg.Discord.Token, log, opts...)

	sink := usecase.NewLogDirectiveSink(log)
	handler := func(ctx context.Context, msg domain.InboundMessage) error {
		reply, err := gateway.Converse(ctx, msg)
		if err != nil {
			return discord.Send(ctx, domain.OutboundMessage{
				ChannelID: msg.ChannelID,
				Content:   usecase.UserMessage(err),
				IsError:   true,
			})
		}

		for _, d := range reply.Directives {
			if err := sink.Forward(ctx, msg.ChannelID, d); err != nil {
				log.Warn("directive sink failed", "error", err)
			}
		}

		if reply.Text == "" {
			return nil
		}
		return discord.Send(ctx, domain.OutboundMessage{
			ChannelID:  msg.ChannelID,
			Content:    reply.Text,
			Directives: reply.Directives,
		})
	}

	if err := discord.Start(ctx, handler); err != nil {
		return fmt.Errorf("start discord: %w", err)
	}
	log.Info("bot running", "name", cfg.Bot.Name, "model", cfg.LLM.Model)

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return discord.Stop(stopCtx)
}
