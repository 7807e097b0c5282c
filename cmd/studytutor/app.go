package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/IMBotPlatform/StudyTutor/pkg/ai"
	"github.com/IMBotPlatform/StudyTutor/pkg/config"
	"github.com/IMBotPlatform/StudyTutor/pkg/history"
	"github.com/IMBotPlatform/StudyTutor/pkg/prompt"
	"github.com/IMBotPlatform/StudyTutor/pkg/store"
	"github.com/IMBotPlatform/StudyTutor/pkg/tutor"
)

// app 汇总一次进程运行所需的组件。
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	kv      store.KV
	history *history.Store
	tutor   *tutor.Tutor
}

// loadConfig 读取配置文件并应用覆盖项，最后校验。
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp 按配置装配存储、提示词、模型与编排器。
//
//	KV -> history.Store ───────────┐
//	Instructions -> Assembler ─────┼─> Tutor
//	ai.Service -> Model ───────────┘
func newApp(ctx context.Context, v *viper.Viper) (*app, error) {
	logger := newLogger(v)

	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}

	// 1) 打开历史存储后端。
	kv, err := store.New(ctx, cfg.Store.Type, cfg.StoreOptions()...)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
	}
	hist := history.NewStore(kv, append(cfg.HistoryOptions(), history.WithLogger(logger))...)

	// 2) 加载辅导指令，未配置文件时使用内置文本。
	instructions := ""
	if cfg.Tutor.InstructionsFile != "" {
		instructions, err = prompt.LoadInstructions(cfg.Tutor.InstructionsFile)
		if err != nil {
			_ = kv.Close()
			return nil, err
		}
	}
	assembler := prompt.NewAssembler(instructions)

	// 3) 模型服务，适配为编排器所需的 Model。
	svc := ai.NewService(&cfg.Config, ai.WithLogger(logger))
	model := tutor.ModelFunc(func(ctx context.Context, messages []history.Turn) (string, error) {
		return svc.Complete(ctx, messages)
	})

	t := tutor.New(hist, assembler, model,
		tutor.WithLogger(logger),
		tutor.WithDefaults(cfg.Tutor.DefaultSubject, cfg.Tutor.DefaultLevel),
		tutor.WithReplies(cfg.Tutor.FallbackReply, cfg.Tutor.ErrorReply),
	)

	logger.Info("study tutor configured",
		"store", cfg.Store.Type, "model", cfg.DefaultModel, "max_turns", cfg.History.MaxTurns)

	return &app{
		cfg:     cfg,
		logger:  logger,
		kv:      kv,
		history: hist,
		tutor:   t,
	}, nil
}

// close 停止新的历史写入，等待已发起的写入完成后关闭存储。
func (a *app) close(ctx context.Context) {
	if err := a.tutor.Close(ctx); err != nil {
		a.logger.Warn("pending history writes not finished", "err", err)
	}
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("close store failed", "err", err)
	}
}
