package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/modelgate/internal/costtrack"
	"github.com/user/modelgate/pkg/llm"
)

var (
	chatProvider  string
	chatModel     string
	chatStream    bool
	chatMaxTokens int
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatProvider, "provider", "p", "", "provider to dispatch to (default: config default, with fallback)")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model override")
	chatCmd.Flags().BoolVarP(&chatStream, "stream", "s", false, "stream the response token by token")
	chatCmd.Flags().IntVar(&chatMaxTokens, "max-tokens", 0, "max completion tokens")
}

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send one chat completion",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	provider := chatProvider
	useFallback := provider == ""
	if provider == "" {
		provider = cfg.Default
	}
	model := chatModel
	if model == "" {
		model = cfg.ModelFor(provider)
	}

	st, err := buildStack(cfg, useFallback)
	if err != nil {
		return err
	}

	req := &llm.CompletionRequest{
		Model:     model,
		MaxTokens: chatMaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: args[0]},
		},
	}

	ctx := cmd.Context()
	if chatStream {
		req.Stream = true
		ch, err := st.stream(ctx, provider, req)
		if err != nil {
			return err
		}
		for chunk := range ch {
			if chunk.Err != nil {
				fmt.Fprintln(os.Stdout)
				return chunk.Err
			}
			fmt.Fprint(os.Stdout, chunk.DeltaContent)
		}
		fmt.Fprintln(os.Stdout)
		return nil
	}

	resp, err := st.complete(ctx, provider, req)
	if err != nil {
		return err
	}
	for _, choice := range resp.Choices {
		fmt.Fprintln(os.Stdout, strings.TrimSpace(choice.Message.Content))
	}
	if resp.Usage != nil {
		fmt.Fprintf(os.Stderr, "[%s tokens: %d prompt + %d completion]\n",
			resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	} else if est, err := costtrack.NewEstimator(model); err == nil {
		fmt.Fprintf(os.Stderr, "[%s tokens: ~%d prompt (estimated, backend reported no usage)]\n",
			resp.Model, est.EstimatePrompt(req))
	}
	return nil
}
