// Command studytutor 启动学习辅导对话服务，并提供本地调试用的子命令。
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "STUDYTUTOR"

// newRootCmd 构建 Cobra 命令树。
// 参数：v 承载命令行与 STUDYTUTOR_* 环境变量覆盖项。
// 返回：*cobra.Command 根命令。
func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "studytutor",
		Short:         "Study Tutor chat service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "path to YAML config file")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("store-type", "", "history backend: memory, file, redis, sqlite, postgres, mysql")
	flags.String("store-path", "", "directory for file backend or sqlite database file")
	flags.String("store-dsn", "", "postgres/mysql DSN")
	flags.String("redis-addr", "", "redis address")
	flags.String("model", "", "name of the configured model to use")

	for key, name := range map[string]string{
		"config":           "config",
		"log.level":        "log-level",
		"log.format":       "log-format",
		"store.type":       "store-type",
		"store.path":       "store-path",
		"store.dsn":        "store-dsn",
		"store.redis.addr": "redis-addr",
		"model":            "model",
	} {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}

	root.AddCommand(newServeCmd(v), newChatCmd(v), newHistoryCmd(v))
	return root
}

// newLogger 按配置创建 slog 日志记录器。
func newLogger(v *viper.Viper) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(v.GetString("log.format"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func main() {
	// 1) 加载 .env（不存在时忽略），再由 viper 读取 STUDYTUTOR_* 环境变量。
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// 2) 执行命令。
	if err := newRootCmd(v).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
