package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/IMBotPlatform/StudyTutor/pkg/tutor"
)

// newChatCmd 在终端中完成一轮对话，会话历史与 HTTP 服务共用同一存储。
func newChatCmd(v *viper.Viper) *cobra.Command {
	var sessionID, subject, level string

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "发送一条消息并输出回复",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, v)
			if err != nil {
				return err
			}
			defer closeWithTimeout(a)

			res, err := a.tutor.Chat(ctx, tutor.ChatRequest{
				Message:   strings.Join(args, " "),
				Subject:   subject,
				Level:     level,
				SessionID: sessionID,
			}, "")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
			if sessionID == "" {
				cmd.PrintErrln("session:", res.SessionID)
			}
			if res.Status != http.StatusOK {
				return errors.New("model call failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue (new one when empty)")
	cmd.Flags().StringVar(&subject, "subject", "", "subject, e.g. math")
	cmd.Flags().StringVar(&level, "level", "", "level, e.g. \"high school\"")
	return cmd
}

// newHistoryCmd 以 JSON 输出会话当前存储的完整历史。
func newHistoryCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "输出会话历史",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, v)
			if err != nil {
				return err
			}
			defer closeWithTimeout(a)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.tutor.History(ctx, args[0]))
		},
	}
}

func closeWithTimeout(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	a.close(ctx)
}
