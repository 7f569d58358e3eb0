// Package main walks through the knowledge-agent-core Go SDK: create a
// knowledge base, upload and process a document, query it, then chat
// with an agent grounded on it.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/knowledge-agent-core/sdk/go/kac"
)

func main() {
	client := kac.NewClient(kac.Config{
		BaseURL: "http://localhost:8081",
		Timeout: 60 * time.Second,
	})

	ctx := context.Background()

	if err := client.Health(ctx); err != nil {
		log.Fatalf("Server not reachable: %v", err)
	}

	// Create a knowledge base
	kb, err := client.CreateKnowledgeBase(ctx, kac.CreateKnowledgeBaseRequest{
		Name:        "handbook",
		Description: "Company handbook",
		RAGType:     "naive",
	})
	if err != nil {
		log.Fatalf("Create knowledge base failed: %v", err)
	}
	fmt.Printf("Created knowledge base: %s\n", kb.ID)

	// Upload a document
	doc, err := client.UploadDocument(ctx, kb.ID, kac.Upload{
		Filename: "refunds.txt",
		Title:    "Refund policy",
		Data:     []byte("Refunds are issued within five business days of approval."),
		Metadata: map[string]interface{}{"team": "support"},
	})
	if err != nil {
		log.Fatalf("Upload failed: %v", err)
	}
	fmt.Printf("Uploaded document: %s\n", doc.ID)

	// Chunk, embed and index it
	processed, err := client.ProcessDocument(ctx, kb.ID, doc.ID)
	if err != nil {
		log.Fatalf("Process failed: %v", err)
	}
	fmt.Printf("Processing status: %s\n", processed.Status)

	// Wait out the queue on async deployments
	for processed.Status == kac.StatusPending {
		time.Sleep(time.Second)
		current, err := client.GetDocument(ctx, kb.ID, doc.ID)
		if err != nil {
			log.Fatalf("Get document failed: %v", err)
		}
		processed.Status = current.Status
	}

	// Ask a question
	result, err := client.Query(ctx, kb.ID, "How long do refunds take?", 5)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Answer: %s\n", result.Response)

	// Create an agent over the knowledge base
	agent, err := client.CreateAgent(ctx, kac.CreateAgentRequest{
		Name:         "support-bot",
		Description:  "Answers support questions from the handbook",
		SystemPrompt: "You are a concise support assistant.",
		KBIDs:        []string{kb.ID},
	})
	if err != nil {
		log.Fatalf("Create agent failed: %v", err)
	}
	fmt.Printf("Created agent: %s\n", agent.ID)

	// Start a conversation and chat
	conv, err := client.CreateConversation(ctx, kac.CreateConversationRequest{
		Title:    "Refund questions",
		AgentIDs: []string{agent.ID},
	})
	if err != nil {
		log.Fatalf("Create conversation failed: %v", err)
	}

	reply, err := client.Chat(ctx, kac.ChatRequest{
		ConversationID: conv.ID,
		AgentID:        agent.ID,
		Message:        "When will my refund arrive?",
	})
	if err != nil {
		log.Fatalf("Chat failed: %v", err)
	}
	fmt.Printf("Agent: %s\n", reply.Content)

	// Stream the next turn over the websocket
	chunks, err := client.StreamChat(ctx, kac.StreamRequest{
		ConversationID: conv.ID,
		AgentID:        agent.ID,
		Message:        "Can you summarize the policy in one line?",
	})
	if err != nil {
		log.Fatalf("Stream failed: %v", err)
	}
	fmt.Print("Agent (streamed): ")
	for chunk := range chunks {
		if chunk.Err != nil {
			log.Fatalf("Stream error: %v", chunk.Err)
		}
		if chunk.Done {
			break
		}
		fmt.Print(chunk.Content)
	}
	fmt.Println()
}
