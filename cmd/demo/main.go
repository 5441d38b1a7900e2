// Command demo runs the job coordinator in-process against an in-memory
// store and the echo runner, submits a few prompts and prints what lands in
// the conversation store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"agent-relay/internal/application"
	"agent-relay/internal/config"
	"agent-relay/internal/domain/model"
	ports "agent-relay/internal/domain/ports/usecase"
	"agent-relay/internal/infra/adapters/agent"
	"agent-relay/internal/infra/db/kvrepo"
	"agent-relay/internal/infra/db/memory"
	"agent-relay/internal/infra/lock"
	"agent-relay/internal/infra/logging"
	"agent-relay/internal/infra/worker"
	"agent-relay/internal/usecase"
)

func main() {
	chatID := pflag.String("chat", "", "conversation id to write to; empty creates one")
	delay := pflag.Duration("delay", 300*time.Millisecond, "simulated agent latency")
	prompts := pflag.StringSlice("prompt", []string{"add a test", "now make it table driven"}, "prompts to submit, in order")
	pflag.Parse()

	logger := logging.New(config.LogConfig{Level: "warn", Format: "console"}, true)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// 1. Wire the coordinator.
	convs := kvrepo.NewConversationRepo(memory.NewKVStore(), lock.NewKeyedMutex(), *logger)
	jobs := memory.NewJobRepo()
	pool := worker.NewPool(2, *logger)
	echo := agent.NewEchoRunner(*delay, *logger)
	proc := worker.NewAgentJobProcessor(jobs, convs, echo, pool, 10*time.Second, *logger)
	jobUC := usecase.NewJobUseCase(jobs, proc, usecase.JobOptions{DefaultModel: "auto"}, logger)
	chatUC := usecase.NewChatUseCase(echo, convs, ports.ModelCatalog{
		Models:  config.DefaultModels,
		Default: "auto",
	}, logger)
	facade := application.NewJobsFacade(jobUC, convs, chatUC)
	pool.Start(ctx)
	defer pool.Stop()

	if *chatID == "" {
		created, err := facade.CreateChat(ctx)
		if err != nil {
			log.Fatalf("create chat: %v", err)
		}
		*chatID = created.ChatID
		fmt.Printf("created chat %s\n", *chatID)
	}

	// 2. Submit and poll, one prompt at a time so the turns stay ordered.
	for _, p := range *prompts {
		sub, err := facade.Submit(ctx, *chatID, p, "")
		if err != nil {
			log.Fatalf("submit: %v", err)
		}
		fmt.Printf("submitted %s: %q\n", sub.JobID, p)
		for {
			st, err := facade.Status(ctx, sub.JobID)
			if err != nil {
				log.Fatalf("status: %v", err)
			}
			fmt.Printf("  %s\n", st.Status)
			if model.JobStatus(st.Status).IsTerminal() {
				break
			}
			time.Sleep(*delay / 3)
		}
	}

	// 3. Show the stored conversation.
	chat, err := facade.Chat(ctx, *chatID)
	if err != nil {
		log.Fatalf("chat: %v", err)
	}
	msgs, err := facade.Messages(ctx, *chatID)
	if err != nil {
		log.Fatalf("messages: %v", err)
	}
	listing, err := facade.ListChats(ctx, false, "last_updated", 0, 0)
	if err != nil {
		log.Fatalf("list chats: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{"chat": chat, "messages": msgs, "chats": listing})
}
