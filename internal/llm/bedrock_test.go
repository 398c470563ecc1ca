package llm

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
}

func (f *fakeConverse) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.out, nil
}

func TestBedrockCompleteFoldsSystemAndMergesRoles(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "  olá!  "}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(12), OutputTokens: aws.Int32(3), TotalTokens: aws.Int32(15)},
	}}
	client := NewBedrockClient(api)

	resp, err := client.Complete(context.Background(), Request{
		Model:  "anthropic.test",
		System: []string{"be brief"},
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: "[3 earlier messages omitted]"},
			{Role: RoleUser, Content: "oi"},
			{Role: RoleUser, Content: "tudo bem?"},
		},
		Temperature: -1,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "olá!" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Usage.Total() != 15 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
	if len(api.input.System) != 2 {
		t.Fatalf("expected marker folded into system, got %d blocks", len(api.input.System))
	}
	if len(api.input.Messages) != 1 || len(api.input.Messages[0].Content) != 2 {
		t.Fatalf("expected consecutive user turns merged, got %+v", api.input.Messages)
	}
	if api.input.InferenceConfig != nil {
		t.Fatalf("expected provider defaults")
	}
}

func TestBedrockCompleteRequiresModel(t *testing.T) {
	client := NewBedrockClient(&fakeConverse{})
	if _, err := client.Complete(context.Background(), Request{Messages: []ChatMessage{{Role: RoleUser, Content: "x"}}}); err == nil {
		t.Fatalf("expected missing model error")
	}
}

func TestBedrockCompleteRejectsUnknownRole(t *testing.T) {
	client := NewBedrockClient(&fakeConverse{})
	_, err := client.Complete(context.Background(), Request{Model: "m", Messages: []ChatMessage{{Role: "tool", Content: "x"}}})
	if err == nil {
		t.Fatalf("expected role error")
	}
}

func TestGeminiContentsSplitsHistory(t *testing.T) {
	system, history, last := geminiContents(Request{
		System: []string{"sys"},
		Messages: []ChatMessage{
			{Role: RoleUser, Content: "a"},
			{Role: RoleSystem, Content: "marker"},
			{Role: RoleAssistant, Content: "b"},
			{Role: RoleUser, Content: "c"},
		},
	})
	if system != "sys\n\nmarker" {
		t.Fatalf("unexpected system %q", system)
	}
	if len(history) != 2 || history[1].Role != "model" {
		t.Fatalf("unexpected history %+v", history)
	}
	if last != "c" {
		t.Fatalf("unexpected last %q", last)
	}
}
