package orchestrator

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// compileModelGraph builds the single model round-trip used by every turn:
// the conversation history gets the system prompt prepended and is sent to
// the tool-bound chat model.
func compileModelGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[[]*schema.Message, *schema.Message], error) {
	graph := compose.NewGraph[[]*schema.Message, *schema.Message]()

	if err := graph.AddLambdaNode("prepend_system",
		compose.InvokableLambda(func(ctx context.Context, history []*schema.Message) ([]*schema.Message, error) {
			out := make([]*schema.Message, 0, len(history)+1)
			out = append(out, schema.SystemMessage(systemPrompt))
			return append(out, history...), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node prepend_system: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add node model: %w", err)
	}

	edges := [][2]string{
		{compose.START, "prepend_system"},
		{"prepend_system", "model"},
		{"model", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.model_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile model graph: %w", err)
	}
	return runner, nil
}
